// Package customendpoint implements the custom-endpoint monitor, per
// spec.md §2 M4 / §4.8: one background task per custom-endpoint URL,
// polling RDS DescribeDBClusterEndpoints and publishing an
// AllowedAndBlockedHosts to subscribers whenever membership changes.
// Grounded on the same sliding-expiration-cache-of-background-tasks
// discipline clustertopology and healthmonitor use, and on the
// DescribeDBClusterEndpoints call shape the pack's teleport RDS fetcher
// exercises against the real aws-sdk-go-v2 rds client.
package customendpoint

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/rs/zerolog/log"

	"github.com/nethalo/clusterlink/internal/cache"
	"github.com/nethalo/clusterlink/internal/controlplane"
)

// RoleType is CustomEndpointInfo's roleType, per spec.md §3.
type RoleType string

const (
	RoleAny    RoleType = "ANY"
	RoleReader RoleType = "READER"
	RoleWriter RoleType = "WRITER"
)

// MemberListType is CustomEndpointInfo's memberListType, per spec.md §3.
type MemberListType string

const (
	MemberListStatic    MemberListType = "STATIC"
	MemberListExclusion MemberListType = "EXCLUSION"
)

// Info is CustomEndpointInfo, per spec.md §3: structural equality over all
// fields (Members compared as sets).
type Info struct {
	EndpointID     string
	ClusterID      string
	URL            string
	RoleType       RoleType
	MemberListType MemberListType
	Members        map[string]struct{}
}

// Equal reports structural equality, per spec.md §3.
func (i Info) Equal(o Info) bool {
	if i.EndpointID != o.EndpointID || i.ClusterID != o.ClusterID || i.URL != o.URL ||
		i.RoleType != o.RoleType || i.MemberListType != o.MemberListType {
		return false
	}
	if len(i.Members) != len(o.Members) {
		return false
	}
	for m := range i.Members {
		if _, ok := o.Members[m]; !ok {
			return false
		}
	}
	return true
}

// AllowedAndBlockedHosts is the published allow/block-list value, per
// spec.md §3: nil on a side means no constraint from that side.
type AllowedAndBlockedHosts struct {
	Allowed map[string]struct{} // nil = ALL
	Blocked map[string]struct{} // nil = none
}

// IsAllowed reports whether instanceID passes the effective allow set,
// per spec.md §3: `(allowed ?? ALL) \ (blocked ?? ∅)`.
func (h AllowedAndBlockedHosts) IsAllowed(instanceID string) bool {
	if h.Allowed != nil {
		if _, ok := h.Allowed[instanceID]; !ok {
			return false
		}
	}
	if h.Blocked != nil {
		if _, ok := h.Blocked[instanceID]; ok {
			return false
		}
	}
	return true
}

func fromInfo(info Info) AllowedAndBlockedHosts {
	switch info.MemberListType {
	case MemberListStatic:
		return AllowedAndBlockedHosts{Allowed: info.Members}
	default: // EXCLUSION
		return AllowedAndBlockedHosts{Blocked: info.Members}
	}
}

// AllowedAndBlockedHosts derives i's effective allow/block sets, per
// spec.md §3: a STATIC member list is the allowed set, an EXCLUSION
// member list is the blocked set. Exported so callers consuming
// Service.Current directly (rather than the onChange callback) can derive
// the same filtering value.
func (i Info) AllowedAndBlockedHosts() AllowedAndBlockedHosts {
	return fromInfo(i)
}

const (
	// DefaultRefreshRate is customEndpointInfoRefreshRateMs's default.
	DefaultRefreshRate = 10 * time.Second
	// DefaultMonitorExpiration is customEndpointMonitorExpirationMs's default.
	DefaultMonitorExpiration = 15 * time.Minute
)

type Monitor struct {
	url          string
	endpointID   string
	refreshRate  time.Duration
	rdsClient    controlplane.RDSClient
	onChange     func(Info, AllowedAndBlockedHosts)
	onCounterInc func()

	mu       sync.RWMutex
	last     Info
	hasLast  bool
	firstErr chan struct{}
	once     sync.Once

	stopCh chan struct{}
	doneCh chan struct{}
}

func newMonitor(url, endpointID string, refreshRate time.Duration, rdsClient controlplane.RDSClient, onChange func(Info, AllowedAndBlockedHosts), onCounterInc func()) *Monitor {
	m := &Monitor{
		url: url, endpointID: endpointID, refreshRate: refreshRate, rdsClient: rdsClient,
		onChange: onChange, onCounterInc: onCounterInc,
		firstErr: make(chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	for {
		m.tick()
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.refreshRate):
		}
	}
}

// tick implements spec.md §4.8's four steps.
func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := m.rdsClient.DescribeDBClusterEndpoints(ctx, &rds.DescribeDBClusterEndpointsInput{
		DBClusterEndpointIdentifier: &m.endpointID,
		Filters: []types.Filter{
			{Name: strPtr("db-cluster-endpoint-type"), Values: []string{"custom"}},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("endpoint", m.url).Msg("customendpoint: DescribeDBClusterEndpoints failed")
		return
	}
	if len(out.DBClusterEndpoints) != 1 {
		log.Warn().Int("count", len(out.DBClusterEndpoints)).Str("endpoint", m.url).Msg("customendpoint: expected exactly one endpoint")
		return
	}
	ep := out.DBClusterEndpoints[0]

	info := Info{
		EndpointID: derefStr(ep.DBClusterEndpointIdentifier),
		ClusterID:  derefStr(ep.DBClusterIdentifier),
		URL:        derefStr(ep.Endpoint),
		RoleType:   roleTypeOf(ep),
		Members:    make(map[string]struct{}),
	}
	if isStaticMemberList(ep) {
		info.MemberListType = MemberListStatic
		for _, s := range ep.StaticMembers {
			info.Members[s] = struct{}{}
		}
	} else {
		info.MemberListType = MemberListExclusion
		for _, s := range ep.ExcludedMembers {
			info.Members[s] = struct{}{}
		}
	}

	m.mu.Lock()
	unchanged := m.hasLast && m.last.Equal(info)
	m.last = info
	m.hasLast = true
	m.mu.Unlock()

	m.once.Do(func() { close(m.firstErr) })

	if unchanged {
		return
	}
	if m.onCounterInc != nil {
		m.onCounterInc()
	}
	if m.onChange != nil {
		m.onChange(info, fromInfo(info))
	}
}

func roleTypeOf(ep types.DBClusterEndpoint) RoleType {
	switch derefStr(ep.CustomEndpointType) {
	case "READER":
		return RoleReader
	case "WRITER":
		return RoleWriter
	default:
		return RoleAny
	}
}

func isStaticMemberList(ep types.DBClusterEndpoint) bool {
	return len(ep.StaticMembers) > 0 || len(ep.ExcludedMembers) == 0
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func strPtr(s string) *string { return &s }

// snapshot returns the monitor's last-published Info, if any.
func (m *Monitor) snapshot() (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.hasLast
}

// awaitFirst blocks until the first successful tick or timeout, per
// spec.md §4.8's "optionally blocks connect/execute until info is
// available for the first time".
func (m *Monitor) awaitFirst(timeout time.Duration) bool {
	select {
	case <-m.firstErr:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *Monitor) stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Service is the custom-endpoint monitor cache, one per process.
type Service struct {
	cache       *cache.SlidingExpirationCache[string, *Monitor]
	refreshRate time.Duration
}

// NewService constructs a Service with the given poll rate and monitor
// expiration (spec.md §6 defaults if zero).
func NewService(refreshRate, monitorExpiration time.Duration) *Service {
	if refreshRate <= 0 {
		refreshRate = DefaultRefreshRate
	}
	if monitorExpiration <= 0 {
		monitorExpiration = DefaultMonitorExpiration
	}
	s := &Service{refreshRate: refreshRate}
	s.cache = cache.New[string, *Monitor](monitorExpiration, monitorExpiration,
		func(*Monitor) bool { return true },
		func(m *Monitor) { m.stop() },
	)
	return s
}

// StartOrGet returns the monitor for url, starting it if this is the first
// reference. onChange is invoked (possibly from the monitor's own
// goroutine) whenever membership changes; onCounterInc is the telemetry
// hook for spec.md §4.8's "Increment a telemetry counter".
func (s *Service) StartOrGet(url, endpointID string, rdsClient controlplane.RDSClient, onChange func(Info, AllowedAndBlockedHosts), onCounterInc func()) (*Monitor, error) {
	return s.cache.ComputeIfAbsent(url, func(string) (*Monitor, error) {
		return newMonitor(url, endpointID, s.refreshRate, rdsClient, onChange, onCounterInc), nil
	}, 0)
}

// Current returns url's last-published Info without blocking.
func (s *Service) Current(url string) (Info, bool) {
	m, ok := s.cache.Get(url, 0)
	if !ok {
		return Info{}, false
	}
	return m.snapshot()
}

// AwaitFirst blocks until url's monitor has completed its first successful
// tick, or timeout elapses. Callers implement spec.md §6's
// waitForCustomEndpointInfo/Timeout by calling this before using Current.
func (s *Service) AwaitFirst(url string, m *Monitor, timeout time.Duration) bool {
	return m.awaitFirst(timeout)
}

// Close disposes every monitor and stops their background tasks.
func (s *Service) Close() { s.cache.Clear() }
