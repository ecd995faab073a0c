// Package rwsplit implements the read/write splitting plugin, per spec.md
// §2 T3 / §4.5: inspects each execute's SQL for a SET READ ONLY toggle and
// swaps the logical connection's active target between a cached writer
// connection and a cached reader connection, picking the reader with a
// configured selector strategy.
package rwsplit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nethalo/clusterlink/internal/clustertopology"
	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/hostinfo"
	"github.com/nethalo/clusterlink/internal/pool"
	"github.com/nethalo/clusterlink/internal/selector"
	"github.com/nethalo/clusterlink/internal/sqlclassify"
)

// cachedClient pairs a physical connection with the host it targets and,
// for pooled connections, whether it came from the internal pool (and so
// may be safely closed rather than returned to the application's own
// driver-managed pool).
type cachedClient struct {
	db       *sql.DB
	host     hostinfo.HostInfo
	pooled   bool
	deadline time.Time // zero means no expiry, per spec.md §4.5
}

func (c *cachedClient) expired() bool {
	return c != nil && !c.deadline.IsZero() && time.Now().After(c.deadline)
}

// Config carries the read/write splitter's tunables, per spec.md §6.
type Config struct {
	// Strategy names the host selector (random, roundRobin, leastConnections,
	// highestWeight); defaults to random per spec.md §4.5.
	Strategy        string
	Selector        selector.Selector
	ReaderKeepAlive time.Duration // 0 = no expiry for pooled connections

	// AllowedHosts, when set, publishes the custom-endpoint monitor's
	// current membership (spec.md §2 M4/§4.8); reader selection excludes
	// any host AllowedAndBlockedHosts.IsAllowed reports false for. The bool
	// return reports whether a published snapshot exists yet; false means
	// "no custom-endpoint constraint in effect".
	AllowedHosts func() (customendpoint.AllowedAndBlockedHosts, bool)
}

// DefaultConfig returns the random-selector, no-expiry default.
func DefaultConfig() Config {
	return Config{Strategy: "random", Selector: selector.Random{}}
}

// Connector opens a physical connection to host. In production this is
// backed by pool.Provider.Connect; tests supply a stub.
type Connector func(ctx context.Context, host hostinfo.HostInfo, props map[string]string) (*sql.DB, error)

// PoolConnector adapts a pool.Provider into a Connector, per spec.md §4.7.
func PoolConnector(p *pool.Provider, d dialect.DriverDialect, props map[string]string) Connector {
	return func(ctx context.Context, host hostinfo.HostInfo, overrideProps map[string]string) (*sql.DB, error) {
		merged := props
		if overrideProps != nil {
			merged = overrideProps
		}
		return p.Connect(ctx, d, host.Endpoint(), merged)
	}
}

// Splitter holds the per-logical-connection read/write splitting state.
type Splitter struct {
	cfg       Config
	topology  *clustertopology.Service
	clusterID string
	connect   Connector
	props     map[string]string

	writer *cachedClient
	reader *cachedClient
}

// New constructs a Splitter for one logical connection.
func New(cfg Config, topo *clustertopology.Service, clusterID string, connect Connector, props map[string]string) *Splitter {
	if cfg.Selector == nil {
		cfg.Selector = selector.Random{}
	}
	return &Splitter{cfg: cfg, topology: topo, clusterID: clusterID, connect: connect, props: props}
}

// SeedWriter registers the logical connection's initial, already-connected
// target as the cached writer, so setReadOnly(false) before any switch can
// reuse it instead of reconnecting.
func (s *Splitter) SeedWriter(db *sql.DB, host hostinfo.HostInfo) {
	s.writer = &cachedClient{db: db, host: host}
}

// HandleExecute inspects sql for a SET READ ONLY toggle and, if present,
// performs the corresponding target switch, per spec.md §4.5. It returns
// the (possibly unchanged) active target and host, or an error if the
// requested switch is invalid (e.g. read-write while in a transaction).
// switched reports whether the active target changed.
func (s *Splitter) HandleExecute(ctx context.Context, sql string, currentRole hostinfo.Role, inTransaction bool) (db *sql.DB, host hostinfo.HostInfo, switched bool, err error) {
	toggle := sqlclassify.DetectReadOnlyToggle(sql)
	if toggle == sqlclassify.NoToggle {
		return nil, hostinfo.HostInfo{}, false, nil
	}

	hosts, _ := s.topology.Cached(s.clusterID)

	switch toggle {
	case sqlclassify.ToReadOnly:
		return s.switchToReader(ctx, hosts, currentRole, inTransaction)
	case sqlclassify.ToReadWrite:
		return s.switchToWriter(ctx, hosts, inTransaction)
	}
	return nil, hostinfo.HostInfo{}, false, nil
}

func (s *Splitter) switchToReader(ctx context.Context, hosts []hostinfo.HostInfo, currentRole hostinfo.Role, inTransaction bool) (*sql.DB, hostinfo.HostInfo, bool, error) {
	if currentRole == hostinfo.RoleReader {
		return nil, hostinfo.HostInfo{}, false, nil
	}
	if inTransaction {
		return nil, hostinfo.HostInfo{}, false, fmt.Errorf("rwsplit: cannot switch to read-only inside a transaction")
	}

	if s.reader != nil && !s.reader.expired() && s.isAllowed(s.reader.host) {
		s.closeWriterIfPooled()
		return s.reader.db, s.reader.host, true, nil
	}

	eligible := s.filterAllowed(hosts)
	if len(hosts) > 0 && len(eligible) == 0 {
		return nil, hostinfo.HostInfo{}, false, errs.NewUnavailableHost("reader")
	}

	picked, err := s.cfg.Selector.Select(eligible, hostinfo.RoleReader)
	if err != nil {
		// Falls back to the writer with a warning, per spec.md §4.5.
		log.Warn().Err(err).Str("cluster_id", s.clusterID).Msg("rwsplit: reader selection failed, falling back to writer")
		return s.switchToWriter(context.Background(), hosts, false)
	}

	db, err := s.connect(ctx, picked, s.props)
	if err != nil {
		log.Warn().Err(err).Str("host", picked.Endpoint()).Msg("rwsplit: reader connect failed, falling back to writer")
		return s.switchToWriter(context.Background(), hosts, false)
	}

	var deadline time.Time
	if s.cfg.ReaderKeepAlive > 0 {
		deadline = time.Now().Add(s.cfg.ReaderKeepAlive)
	}
	s.reader = &cachedClient{db: db, host: picked, pooled: true, deadline: deadline}
	s.closeWriterIfPooled()
	return s.reader.db, s.reader.host, true, nil
}

func (s *Splitter) switchToWriter(ctx context.Context, hosts []hostinfo.HostInfo, inTransaction bool) (*sql.DB, hostinfo.HostInfo, bool, error) {
	if inTransaction {
		return nil, hostinfo.HostInfo{}, false, fmt.Errorf("rwsplit: cannot switch to read-write inside a transaction")
	}

	if s.writer != nil {
		s.closeReaderIfPooled()
		return s.writer.db, s.writer.host, true, nil
	}

	var writerHost hostinfo.HostInfo
	for _, h := range hosts {
		if h.Role == hostinfo.RoleWriter {
			writerHost = h
			break
		}
	}
	if writerHost.HostID == "" {
		return nil, hostinfo.HostInfo{}, false, fmt.Errorf("rwsplit: no writer in current topology")
	}

	db, err := s.connect(ctx, writerHost, s.props)
	if err != nil {
		return nil, hostinfo.HostInfo{}, false, err
	}
	s.writer = &cachedClient{db: db, host: writerHost, pooled: true}
	s.closeReaderIfPooled()
	return s.writer.db, s.writer.host, true, nil
}

// isAllowed reports whether h passes the custom-endpoint monitor's current
// published membership, per spec.md §3's effective-allowed-set rule. No
// AllowedHosts hook, or no snapshot published yet, means no constraint.
func (s *Splitter) isAllowed(h hostinfo.HostInfo) bool {
	if s.cfg.AllowedHosts == nil {
		return true
	}
	hosts, ok := s.cfg.AllowedHosts()
	if !ok {
		return true
	}
	return hosts.IsAllowed(h.HostID)
}

func (s *Splitter) filterAllowed(hosts []hostinfo.HostInfo) []hostinfo.HostInfo {
	if s.cfg.AllowedHosts == nil {
		return hosts
	}
	allowed, ok := s.cfg.AllowedHosts()
	if !ok {
		return hosts
	}
	out := make([]hostinfo.HostInfo, 0, len(hosts))
	for _, h := range hosts {
		if allowed.IsAllowed(h.HostID) {
			out = append(out, h)
		}
	}
	return out
}

func (s *Splitter) closeWriterIfPooled() {
	if s.writer != nil && s.writer.pooled {
		if err := s.writer.db.Close(); err != nil {
			log.Warn().Err(err).Msg("rwsplit: error closing cached writer")
		}
		s.writer = nil
	}
}

func (s *Splitter) closeReaderIfPooled() {
	if s.reader != nil && s.reader.pooled {
		if err := s.reader.db.Close(); err != nil {
			log.Warn().Err(err).Msg("rwsplit: error closing cached reader")
		}
		s.reader = nil
	}
}

// InvalidateOnFailover discards both cached clients without closing the
// application-visible one, per spec.md §4.5's "On failover notifications
// ... the plugin invalidates both cached clients" (the failover coordinator
// itself owns disposal of the connection it replaced).
func (s *Splitter) InvalidateOnFailover() {
	s.writer = nil
	s.reader = nil
}
