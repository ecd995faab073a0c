// Package healthmonitor implements the enhanced-failure-monitoring (EFM)
// host-health monitor, per spec.md §2 M2 / §4.3: one background task per
// (host, failureDetectionTime, failureDetectionInterval, failureDetectionCount)
// tuple, probing a dedicated monitoring connection and aborting in-flight
// calls on the host once it's judged unhealthy.
package healthmonitor

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nethalo/clusterlink/internal/cache"
	"github.com/nethalo/clusterlink/internal/dialect"
)

// Params identifies one monitor instance, per spec.md §3's tuple key.
type Params struct {
	Host                    string
	FailureDetectionTime    time.Duration
	FailureDetectionInterval time.Duration
	FailureDetectionCount   int
}

// DefaultParams mirrors spec.md §6's failureDetectionTime/Interval/Count
// defaults (30000ms / 5000ms / 3).
func DefaultParams(host string) Params {
	return Params{
		Host:                     host,
		FailureDetectionTime:     30 * time.Second,
		FailureDetectionInterval: 5 * time.Second,
		FailureDetectionCount:    3,
	}
}

// Context is a MonitorConnectionContext, per spec.md §3: registered by the
// host-monitoring plugin at execute() entry and marked inactive on return.
// The monitor aborts ClientToAbort when the host transitions unhealthy
// while this context is still active.
type Context struct {
	mu            sync.Mutex
	ClientToAbort *sql.DB
	isActive      bool
	shouldAbort   bool
}

func (c *Context) deactivate() {
	c.mu.Lock()
	c.isActive = false
	c.mu.Unlock()
}

// ShouldAbort reports whether the monitor asked this call to abort.
func (c *Context) ShouldAbort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldAbort
}

type Monitor struct {
	params  Params
	dialect dialect.DriverDialect
	openFn  func(ctx context.Context) (*sql.DB, error)

	mu               sync.Mutex
	monitoringConn   *sql.DB
	failureCount     int
	unhealthySince   time.Time
	hostUnhealthy    bool
	activeContexts   map[*Context]struct{}
	newContexts      []*Context
	lastContextEvent time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func newMonitor(p Params, d dialect.DriverDialect, openFn func(context.Context) (*sql.DB, error)) *Monitor {
	m := &Monitor{
		params:           p,
		dialect:          d,
		openFn:           openFn,
		activeContexts:   make(map[*Context]struct{}),
		lastContextEvent: time.Now(),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.params.FailureDetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			m.closeMonitoringConn()
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) ensureMonitoringConn(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.monitoringConn != nil {
		return m.monitoringConn, nil
	}
	db, err := m.openFn(ctx)
	if err != nil {
		return nil, err
	}
	m.monitoringConn = db
	return db, nil
}

func (m *Monitor) closeMonitoringConn() {
	m.mu.Lock()
	db := m.monitoringConn
	m.monitoringConn = nil
	m.mu.Unlock()
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Str("host", m.params.Host).Msg("healthmonitor: error closing monitoring connection")
		}
	}
}

func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.params.FailureDetectionInterval)
	defer cancel()

	db, err := m.ensureMonitoringConn(ctx)
	probeErr := err
	if err == nil {
		probeErr = m.dialect.Probe(ctx, db)
	}

	m.mu.Lock()
	if probeErr == nil {
		if m.failureCount > 0 {
			m.failureCount = 0
			m.hostUnhealthy = false
		}
		m.mu.Unlock()
		return
	}

	if m.failureCount == 0 {
		m.unhealthySince = time.Now()
	}
	m.failureCount++

	threshold := time.Duration(m.params.FailureDetectionCount-1) * m.params.FailureDetectionInterval
	becameUnhealthy := !m.hostUnhealthy && time.Since(m.unhealthySince) >= threshold
	if becameUnhealthy {
		m.hostUnhealthy = true
	}
	toAbort := make([]*Context, 0, len(m.activeContexts))
	if becameUnhealthy {
		for c := range m.activeContexts {
			toAbort = append(toAbort, c)
		}
	}
	m.mu.Unlock()

	if becameUnhealthy {
		log.Warn().Str("host", m.params.Host).Int("failures", m.failureCount).Msg("healthmonitor: host marked unhealthy")
		// The monitoring connection itself is suspect; drop it so the next
		// tick reopens one.
		m.closeMonitoringConn()
		for _, c := range toAbort {
			c.mu.Lock()
			c.shouldAbort = true
			target := c.ClientToAbort
			c.isActive = false
			c.mu.Unlock()
			if target != nil {
				_ = target.Close() // best-effort: forces the in-flight call to fail
			}
		}
	}
}

// Register adds ctx to the active-contexts set, per spec.md §4.3's
// "registered by the host-monitoring plugin at execute() entry".
func (m *Monitor) Register(ctx *Context) {
	m.mu.Lock()
	m.activeContexts[ctx] = struct{}{}
	m.lastContextEvent = time.Now()
	m.mu.Unlock()
}

// Unregister marks ctx inactive, called on execute() return.
func (m *Monitor) Unregister(ctx *Context) {
	ctx.deactivate()
	m.mu.Lock()
	delete(m.activeContexts, ctx)
	m.mu.Unlock()
}

// IsHostUnhealthy reports the monitor's last-known health verdict.
func (m *Monitor) IsHostUnhealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostUnhealthy
}

func (m *Monitor) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeContexts) == 0 && len(m.newContexts) == 0
}

func (m *Monitor) stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Service manages one monitor per Params tuple, in a sliding-expiration
// cache keyed by the tuple, disposing idle monitors.
type Service struct {
	cache *cache.SlidingExpirationCache[Params, *Monitor]
}

// DefaultDisposalTime is spec.md §6's monitorDisposalTime (600000ms).
const DefaultDisposalTime = 10 * time.Minute

// NewService constructs a Service with the given idle-disposal TTL.
func NewService(disposalTime time.Duration) *Service {
	if disposalTime <= 0 {
		disposalTime = DefaultDisposalTime
	}
	s := &Service{}
	s.cache = cache.New[Params, *Monitor](disposalTime, disposalTime,
		func(m *Monitor) bool { return m.idle() },
		func(m *Monitor) { m.stop() },
	)
	return s
}

// StartOrGet returns the monitor for p, creating one (with its own
// monitoring connection opened lazily via openFn) if absent.
func (s *Service) StartOrGet(p Params, d dialect.DriverDialect, openFn func(context.Context) (*sql.DB, error)) (*Monitor, error) {
	return s.cache.ComputeIfAbsent(p, func(Params) (*Monitor, error) {
		return newMonitor(p, d, openFn), nil
	}, 0)
}

// MonitoringProps promotes every "monitoring_"-prefixed property over its
// unprefixed counterpart, per spec.md §4.3.
func MonitoringProps(props map[string]string) map[string]string {
	const prefix = "monitoring_"
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	for k, v := range props {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out
}

// Close stops every monitor.
func (s *Service) Close() { s.cache.Clear() }
