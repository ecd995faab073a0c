// Package clustertopology implements the cluster topology service, per
// spec.md §2 M1 / §4.2: one background monitor per ClusterId, publishing
// the latest known host list for readers to consume without locking, with
// a normal and a high poll rate depending on writer health and outstanding
// forceMonitoringRefresh requests. Adapted from the teacher's
// internal/topology/detector.go single-shot query (now pushed down into
// the dialect layer) wrapped in the background-task/sliding-cache
// discipline the teacher uses for its own long-lived resources.
package clustertopology

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rs/zerolog/log"

	"github.com/nethalo/clusterlink/internal/cache"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/hostinfo"
	"github.com/nethalo/clusterlink/internal/urlclassifier"
)

const (
	// DefaultNormalRefresh is the idle topology poll interval, spec.md §6
	// clusterTopologyRefreshRateMs.
	DefaultNormalRefresh = 30 * time.Second
	// DefaultHighRefresh is the poll interval while the writer is down or a
	// forceMonitoringRefresh is outstanding, spec.md §6
	// clusterTopologyHighRefreshRateMs.
	DefaultHighRefresh = 100 * time.Millisecond
	// DefaultMonitorExpiration is the idle-cluster eviction TTL.
	DefaultMonitorExpiration = 15 * time.Minute
)

// published is the atomically-swapped snapshot subscribers read without
// locking, per spec.md §4.2 "Results are published atomically".
type published struct {
	topology []hostinfo.HostInfo
	writerID string
}

type clusterMonitor struct {
	clusterID string
	dialect   dialect.DriverDialect
	db        *sql.DB

	normalInterval time.Duration
	highInterval   time.Duration

	mu        sync.RWMutex
	current   published
	hasResult bool

	// forceMonitoringRefresh coordination.
	cond            *sync.Cond
	verifyWriter    bool
	verifyDeadline  time.Time
	awaitingVerify  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func newClusterMonitor(clusterID string, d dialect.DriverDialect, db *sql.DB, normal, high time.Duration) *clusterMonitor {
	m := &clusterMonitor{
		clusterID:      clusterID,
		dialect:        d,
		db:             db,
		normalInterval: normal,
		highInterval:   high,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

func (m *clusterMonitor) run() {
	defer close(m.doneCh)
	for {
		interval := m.pollInterval()
		m.tick()

		select {
		case <-m.stopCh:
			return
		case <-time.After(interval):
		}
	}
}

func (m *clusterMonitor) pollInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writerDown := !m.hasResult
	if m.hasResult {
		if w, ok := topologyWriter(m.current.topology); !ok || !w.IsAvailable() {
			writerDown = true
		}
	}
	if writerDown || m.awaitingVerify {
		return m.highInterval
	}
	return m.normalInterval
}

func topologyWriter(hosts []hostinfo.HostInfo) (hostinfo.HostInfo, bool) {
	for _, h := range hosts {
		if h.Role == hostinfo.RoleWriter {
			return h, true
		}
	}
	return hostinfo.HostInfo{}, false
}

func (m *clusterMonitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hosts, err := m.dialect.QueryTopology(ctx, m.db)
	if err != nil {
		// Failure semantics per spec.md §4.2: downgrade to the previous
		// cached topology and retry on the next tick.
		log.Warn().Err(err).Str("cluster_id", m.clusterID).Msg("clustertopology: refresh failed, keeping stale topology")
		return
	}

	m.mu.Lock()
	prevWriter, hadWriter := topologyWriter(m.current.topology)
	newWriter, hasNewWriter := topologyWriter(hosts)

	m.current = published{topology: hosts}
	if hasNewWriter {
		m.current.writerID = newWriter.HostID
	}
	m.hasResult = true

	if m.awaitingVerify {
		converged := false
		if m.verifyWriter {
			converged = hasNewWriter && (!hadWriter || newWriter.HostID != prevWriter.HostID)
		} else {
			converged = true // "any topology has been observed" case
		}
		if converged || time.Now().After(m.verifyDeadline) {
			m.awaitingVerify = false
			m.cond.Broadcast()
		}
	}
	m.mu.Unlock()
}

func (m *clusterMonitor) snapshot() ([]hostinfo.HostInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasResult {
		return nil, false
	}
	out := make([]hostinfo.HostInfo, len(m.current.topology))
	copy(out, m.current.topology)
	return out, true
}

// awaitConvergence blocks until the monitor reports a converged topology
// (per verifyWriter semantics) or timeout elapses.
func (m *clusterMonitor) awaitConvergence(verifyWriter bool, timeout time.Duration) ([]hostinfo.HostInfo, bool) {
	m.mu.Lock()
	m.verifyWriter = verifyWriter
	m.verifyDeadline = time.Now().Add(timeout)
	m.awaitingVerify = true
	deadline := m.verifyDeadline
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.mu.Lock()
		for m.awaitingVerify && time.Now().Before(deadline) {
			m.cond.Wait()
		}
		m.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout + time.Second):
	}
	return m.snapshot()
}

func (m *clusterMonitor) stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Service is the cluster topology service, one instance shared across every
// logical connection in the process.
type Service struct {
	cache          *cache.SlidingExpirationCache[string, *clusterMonitor]
	group          singleflight.Group
	normalInterval time.Duration
	highInterval   time.Duration
}

// NewService constructs a Service with the given poll intervals and
// monitor-expiration TTL (spec.md §6 defaults if zero values are passed).
func NewService(normalInterval, highInterval, monitorExpiration time.Duration) *Service {
	if normalInterval <= 0 {
		normalInterval = DefaultNormalRefresh
	}
	if highInterval <= 0 {
		highInterval = DefaultHighRefresh
	}
	if monitorExpiration <= 0 {
		monitorExpiration = DefaultMonitorExpiration
	}
	s := &Service{normalInterval: normalInterval, highInterval: highInterval}
	s.cache = cache.New[string, *clusterMonitor](monitorExpiration, monitorExpiration,
		func(*clusterMonitor) bool { return true },
		func(m *clusterMonitor) { m.stop() },
	)
	return s
}

// Refresh returns the cached topology for clusterID if fresh, otherwise
// performs a blocking query over db and publishes the result, starting the
// cluster's background monitor if this is the first reference.
func (s *Service) Refresh(ctx context.Context, clusterID string, d dialect.DriverDialect, db *sql.DB) ([]hostinfo.HostInfo, error) {
	m, err := s.cache.ComputeIfAbsent(clusterID, func(string) (*clusterMonitor, error) {
		return newClusterMonitor(clusterID, d, db, s.normalInterval, s.highInterval), nil
	}, 0)
	if err != nil {
		return nil, err
	}
	if hosts, ok := m.snapshot(); ok {
		return hosts, nil
	}
	return s.ForceRefresh(ctx, clusterID, d, db, 10*time.Second)
}

// ForceRefresh queries db directly with a time budget, publishing the
// result into clusterID's monitor entry if one exists. Returns nil, nil on
// failure per spec.md §4.2 ("returns null on failure").
func (s *Service) ForceRefresh(ctx context.Context, clusterID string, d dialect.DriverDialect, db *sql.DB, timeout time.Duration) ([]hostinfo.HostInfo, error) {
	v, err, _ := s.group.Do(clusterID+":force", func() (any, error) {
		qctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		hosts, err := d.QueryTopology(qctx, db)
		if err != nil {
			return nil, nil
		}
		return hosts, nil
	})
	_ = err // singleflight.Do never errors here; the inner error is swallowed above
	hosts, _ := v.([]hostinfo.HostInfo)
	if hosts == nil {
		return nil, nil
	}

	if m, ok := s.cache.Get(clusterID, 0); ok {
		m.mu.Lock()
		m.current = published{topology: hosts}
		if w, ok := topologyWriter(hosts); ok {
			m.current.writerID = w.HostID
		}
		m.hasResult = true
		m.mu.Unlock()
	}
	return hosts, nil
}

// ForceMonitoringRefresh asks the background monitor for clusterID to
// converge as quickly as possible, per spec.md §4.2, optionally requiring a
// writer different from the one last observed.
func (s *Service) ForceMonitoringRefresh(clusterID string, verifyWriter bool, timeout time.Duration) ([]hostinfo.HostInfo, bool) {
	m, ok := s.cache.Get(clusterID, 0)
	if !ok {
		return nil, false
	}
	return m.awaitConvergence(verifyWriter, timeout)
}

// GetClusterID derives the ClusterId for host, consulting discoveredClusterID
// (from a prior topology query) when DNS alone doesn't reveal it.
func (s *Service) GetClusterID(host, discoveredClusterID string) string {
	return urlclassifier.Classify(host).DeriveClusterID(discoveredClusterID)
}

// IdentifyConnection asks the dialect which host db is attached to and
// resolves it against clusterID's published topology.
func (s *Service) IdentifyConnection(ctx context.Context, clusterID string, d dialect.DriverDialect, db *sql.DB) (hostinfo.HostInfo, error) {
	hostID, err := d.IdentifyConnection(ctx, db)
	if err != nil {
		return hostinfo.HostInfo{}, err
	}
	if m, ok := s.cache.Get(clusterID, 0); ok {
		if hosts, ok := m.snapshot(); ok {
			for _, h := range hosts {
				if h.HostID == hostID {
					return h, nil
				}
			}
		}
	}
	return hostinfo.HostInfo{HostID: hostID}, nil
}

// Cached returns clusterID's last-published topology without querying,
// for callers (like the failover coordinator) that already hold a dead
// connection and cannot perform a blocking refresh themselves.
func (s *Service) Cached(clusterID string) ([]hostinfo.HostInfo, bool) {
	m, ok := s.cache.Get(clusterID, 0)
	if !ok {
		return nil, false
	}
	return m.snapshot()
}

// Close disposes every monitor and stops their background tasks.
func (s *Service) Close() { s.cache.Clear() }
