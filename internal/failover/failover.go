// Package failover implements the failover coordinator, per spec.md §2 T2 /
// §4.4: on a network error or explicit failover trigger, drives reconnection
// to a new writer or reader depending on failoverMode, surfacing a typed
// outcome. Reader-candidate racing uses golang.org/x/sync/errgroup the same
// way the pack's cuemby-warren service races redundant upstream calls.
package failover

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"github.com/nethalo/clusterlink/internal/clustertopology"
	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// Mode is one of spec.md §6's three failoverMode values.
type Mode string

const (
	ModeStrictWriter   Mode = "strict-writer"
	ModeStrictReader   Mode = "strict-reader"
	ModeReaderOrWriter Mode = "reader-or-writer"
)

// State is the failover coordinator's per-logical-connection state, per
// spec.md §4.4's state machine diagram.
type State string

const (
	StateSteady          State = "STEADY"
	StateDetecting       State = "DETECTING"
	StateWriterFailover  State = "WRITER_FAILOVER"
	StateReaderFailover  State = "READER_FAILOVER"
	StateReconfigure     State = "RECONFIGURE"
	StateFailed          State = "FAILED"
)

// Config carries the timing/mode parameters, per spec.md §6.
type Config struct {
	Mode                    Mode
	FailoverTimeout         time.Duration // failoverTimeoutMs, default 300s
	ReaderConnectTimeout    time.Duration // failoverReaderConnectTimeoutMs, default 30s
	WriterReconnectInterval time.Duration // failoverWriterReconnectIntervalMs, default 2s

	// AllowedHosts, when set, publishes the custom-endpoint monitor's
	// current membership (spec.md §2 M4/§4.8); the reader-candidate list
	// excludes any host AllowedAndBlockedHosts.IsAllowed reports false for.
	AllowedHosts func() (customendpoint.AllowedAndBlockedHosts, bool)
}

// DefaultConfig returns spec.md §6's documented failover defaults for mode.
func DefaultConfig(mode Mode) Config {
	return Config{
		Mode:                    mode,
		FailoverTimeout:         300 * time.Second,
		ReaderConnectTimeout:    30 * time.Second,
		WriterReconnectInterval: 2 * time.Second,
	}
}

// Connector opens a physical connection to host and returns its *sql.DB.
type Connector func(ctx context.Context, host hostinfo.HostInfo) (*sql.DB, error)

// Outcome is the result of a successful reconnection.
type Outcome struct {
	NewHost hostinfo.HostInfo
	Target  *sql.DB
}

// Coordinator drives failover for one logical connection at a time; it is
// not meant to be shared across logical connections (spec.md §5: "a
// logical connection is owned by the application").
type Coordinator struct {
	cfg       Config
	topology  *clustertopology.Service
	dialect   dialect.DriverDialect
	clusterID string
	connect   Connector

	mu    sync.Mutex
	state State
}

// NewCoordinator constructs a Coordinator for one logical connection.
func NewCoordinator(cfg Config, topo *clustertopology.Service, d dialect.DriverDialect, clusterID string, connect Connector) *Coordinator {
	return &Coordinator{cfg: cfg, topology: topo, dialect: d, clusterID: clusterID, connect: connect, state: StateSteady}
}

// State reports the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// HandleNetworkError runs the full failover state machine for a detected
// network error on currentHost, per spec.md §4.4. inTransaction signals the
// failure happened inside a user-observable transaction, in which case a
// successful reconnect still surfaces TransactionResolutionUnknownError
// instead of FailoverSuccessError, since the wrapper cannot know whether the
// doomed transaction committed.
func (c *Coordinator) HandleNetworkError(ctx context.Context, currentHost hostinfo.HostInfo, inTransaction bool) (*Outcome, error) {
	c.setState(StateDetecting)

	deadlineCtx, cancel := context.WithTimeout(ctx, c.cfg.FailoverTimeout)
	defer cancel()

	// currentHost is unreachable (that's why we're here), so there is no
	// live connection this coordinator can use for a blocking refresh; fall
	// back to the monitor's last-published snapshot, per spec.md §4.2's
	// downgrade-to-stale-topology failure semantics.
	hosts, _ := c.topology.Cached(c.clusterID)

	var err error
	var outcome *Outcome
	switch c.cfg.Mode {
	case ModeStrictReader:
		c.setState(StateReaderFailover)
		outcome, err = c.readerFailover(deadlineCtx, hosts)
	case ModeReaderOrWriter:
		c.setState(StateReaderFailover)
		outcome, err = c.readerFailover(deadlineCtx, hosts)
		if err != nil {
			c.setState(StateWriterFailover)
			outcome, err = c.writerFailover(deadlineCtx, currentHost)
		}
	default: // strict-writer
		c.setState(StateWriterFailover)
		outcome, err = c.writerFailover(deadlineCtx, currentHost)
	}

	if err != nil {
		c.setState(StateFailed)
		return nil, errs.NewFailoverFailed(err)
	}

	c.setState(StateReconfigure)
	c.setState(StateSteady)

	if inTransaction {
		return outcome, errs.NewTransactionResolutionUnknown(nil)
	}
	return outcome, errs.NewFailoverSuccess(outcome.NewHost.HostID)
}

// readerFailover implements spec.md §4.4's reader failover algorithm:
// shuffled active readers, then shuffled down readers, then (if mode
// permits) the writer; raced in batches of two. Each candidate is tried
// once: the list is not walked again, so reader failover fails as soon as
// every batch has failed, even if the failover timeout has not expired.
func (c *Coordinator) readerFailover(ctx context.Context, hosts []hostinfo.HostInfo) (*Outcome, error) {
	candidates := readerCandidates(hosts, c.cfg.Mode)
	if len(candidates) == 0 {
		return nil, errs.NewNoHostsMatchingRole("reader")
	}
	allowed := c.filterAllowed(candidates)
	if len(allowed) == 0 {
		return nil, errs.NewUnavailableHost("reader-candidates")
	}
	candidates = allowed

	for len(candidates) > 0 {
		batch := candidates
		if len(batch) > 2 {
			batch = candidates[:2]
		}
		candidates = candidates[len(batch):]

		winner, winHost, err := c.raceBatch(ctx, batch)
		if err != nil {
			continue
		}
		if c.cfg.Mode == ModeStrictReader && winHost.Role == hostinfo.RoleWriter {
			_ = winner.Close()
			continue
		}
		return &Outcome{NewHost: winHost, Target: winner}, nil
	}
	return nil, errs.NewFailoverFailed(nil)
}

func readerCandidates(hosts []hostinfo.HostInfo, mode Mode) []hostinfo.HostInfo {
	var active, down []hostinfo.HostInfo
	for _, h := range hosts {
		if h.Role != hostinfo.RoleReader {
			continue
		}
		if h.IsAvailable() {
			active = append(active, h)
		} else {
			down = append(down, h)
		}
	}
	shuffle(active)
	shuffle(down)
	out := append(active, down...)

	if mode == ModeReaderOrWriter && len(out) == 0 {
		if w, ok := topologyWriter(hosts); ok {
			out = append(out, w)
		}
	}
	return out
}

// filterAllowed excludes any host the custom-endpoint monitor's current
// published membership blocks, per spec.md §3. No AllowedHosts hook, or no
// snapshot published yet, means no constraint.
func (c *Coordinator) filterAllowed(hosts []hostinfo.HostInfo) []hostinfo.HostInfo {
	if c.cfg.AllowedHosts == nil {
		return hosts
	}
	allowed, ok := c.cfg.AllowedHosts()
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

func topologyWriter(hosts []hostinfo.HostInfo) (hostinfo.HostInfo, bool) {
	for _, h := range hosts {
		if h.Role == hostinfo.RoleWriter {
			return h, true
		}
	}
	return hostinfo.HostInfo{}, false
}

func shuffle(hosts []hostinfo.HostInfo) {
	rand.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })
}

// raceBatch connects to every host in batch concurrently with a per-attempt
// timeout, keeping the first success and deferring cleanup of any
// late-arriving losers.
func (c *Coordinator) raceBatch(ctx context.Context, batch []hostinfo.HostInfo) (*sql.DB, hostinfo.HostInfo, error) {
	type result struct {
		db   *sql.DB
		host hostinfo.HostInfo
	}
	winnerCh := make(chan result, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range batch {
		h := h
		g.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(gctx, c.cfg.ReaderConnectTimeout)
			defer cancel()
			db, err := c.connect(attemptCtx, h)
			if err != nil {
				return nil // losers don't fail the group; absence of a winner does
			}
			select {
			case winnerCh <- result{db: db, host: h}:
			default:
				// Another attempt already won; close this late connection.
				if err := db.Close(); err != nil {
					log.Warn().Err(err).Msg("failover: error closing losing reader connection")
				}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(winnerCh)
	}()

	r, ok := <-winnerCh
	if !ok {
		return nil, hostinfo.HostInfo{}, errs.NewUnavailableHost("reader-batch")
	}
	// Drain and close any further winners in the background, so the first
	// success is returned without waiting for the other attempts.
	go func() {
		for extra := range winnerCh {
			if err := extra.db.Close(); err != nil {
				log.Warn().Err(err).Msg("failover: error closing late reader connection")
			}
		}
	}()
	return r.db, r.host, nil
}

type writerResult struct {
	db   *sql.DB
	host hostinfo.HostInfo
}

// writerFailover implements spec.md §4.4's writer failover algorithm: race
// a reconnect-to-old-writer task against a wait-for-new-writer task that
// polls the topology monitor with verifyWriter=true.
func (c *Coordinator) writerFailover(ctx context.Context, oldWriter hostinfo.HostInfo) (*Outcome, error) {
	winnerCh := make(chan writerResult, 2)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.WriterReconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db, err := c.connect(ctx, oldWriter)
				if err != nil {
					continue
				}
				select {
				case winnerCh <- writerResult{db: db, host: oldWriter}:
				default:
					_ = db.Close()
				}
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		hosts, ok := c.topology.ForceMonitoringRefresh(c.clusterID, true, c.cfg.FailoverTimeout)
		if !ok {
			return
		}
		newWriter, ok := topologyWriter(hosts)
		if !ok {
			return
		}
		db, err := c.connect(ctx, newWriter)
		if err != nil {
			return
		}
		select {
		case winnerCh <- writerResult{db: db, host: newWriter}:
		default:
			_ = db.Close()
		}
	}()

	select {
	case r := <-winnerCh:
		go func() { wg.Wait(); close(winnerCh); drainWriterWinners(winnerCh) }()
		return &Outcome{NewHost: r.host, Target: r.db}, nil
	case <-ctx.Done():
		wg.Wait()
		close(winnerCh)
		drainWriterWinners(winnerCh)
		return nil, ctx.Err()
	}
}

func drainWriterWinners(ch <-chan writerResult) {
	for extra := range ch {
		if extra.db != nil {
			_ = extra.db.Close()
		}
	}
}
