// Package pool implements the internal connection pool provider, per
// spec.md §2 M3 / §4.7: pools are keyed by (instanceURL, userDerivedKey) and
// a pool is only disposed once every borrowed connection has been released,
// the same idle-draining discipline the pack's db-bouncer pool.go uses for
// its per-tenant pools.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nethalo/clusterlink/internal/cache"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/urlclassifier"
)

// Key identifies one internal pool, per spec.md §3 PoolKey.
type Key struct {
	InstanceURL   string
	UserDerivedKey string
}

const (
	defaultPoolTTL        = 30 * time.Minute
	defaultCleanupInterval = 60 * time.Minute
)

type poolEntry struct {
	key     Key
	db      *sql.DB
	dialect dialect.DriverDialect
}

// Provider hands out shared *sql.DB handles keyed by Key, disposing idle
// pools via a background sliding-expiration cache.
type Provider struct {
	cache *cache.SlidingExpirationCache[Key, *poolEntry]

	mu    sync.Mutex
	index map[Key]*poolEntry

	// EnableGreenHostReplacement rewrites an Aurora blue/green "green" name
	// whose DNS no longer resolves to its promoted (non-green) name before
	// connecting, per spec.md §4.7 step 1.
	EnableGreenHostReplacement bool

	// KeyFunc derives the user-scoped portion of Key from connection
	// properties, defaulting to props["user"], per spec.md §3's "any string
	// returned by a user-supplied mapping function".
	KeyFunc func(props map[string]string) string
}

// NewProvider constructs a Provider with the default pool TTL/cleanup
// interval from spec.md §4.7.
func NewProvider() *Provider {
	p := &Provider{index: make(map[Key]*poolEntry)}
	p.cache = cache.New[Key, *poolEntry](defaultPoolTTL, defaultCleanupInterval,
		func(e *poolEntry) bool { return shouldDispose(e) },
		func(e *poolEntry) { p.disposeEntry(e) },
	)
	return p
}

func shouldDispose(e *poolEntry) bool {
	stats := e.db.Stats()
	return stats.InUse == 0
}

func (p *Provider) disposeEntry(e *poolEntry) {
	p.mu.Lock()
	delete(p.index, e.key)
	p.mu.Unlock()
	if err := e.db.Close(); err != nil {
		log.Warn().Err(err).Msg("pool: error closing disposed pool")
	}
}

var greenNamePattern = regexp.MustCompile(`^(.+)-green-[a-z0-9]+(\..+)$`)

// rewriteGreenHost resolves host to its promoted name if it matches the
// Aurora blue/green "-green-<suffix>" naming convention and no longer
// resolves in DNS.
func rewriteGreenHost(host string) string {
	m := greenNamePattern.FindStringSubmatch(host)
	if m == nil {
		return host
	}
	if _, err := net.LookupHost(host); err == nil {
		return host // still resolves: not yet cut over
	}
	return m[1] + m[2]
}

// Connect returns a pooled *sql.DB for (host, props), borrowing from an
// existing pool when present or creating one via d.Open, per spec.md §4.7.
// Only RDS instance endpoints are accepted.
func (p *Provider) Connect(ctx context.Context, d dialect.DriverDialect, host string, props map[string]string) (*sql.DB, error) {
	if urlclassifier.Classify(host).Kind != urlclassifier.KindInstance {
		return nil, errs.NewIllegalArgument(fmt.Sprintf("pool: %q is not an RDS instance endpoint", host))
	}

	effectiveHost := host
	if p.EnableGreenHostReplacement {
		effectiveHost = rewriteGreenHost(host)
	}

	userKey := host // host must still identify the logical entry even if DNS rewrites occur
	if p.KeyFunc != nil {
		userKey = p.KeyFunc(props)
	} else if u := props["user"]; u != "" {
		userKey = u
	}
	key := Key{InstanceURL: effectiveHost, UserDerivedKey: userKey}

	prepared := d.PreparePoolProperties(mergeHost(props, effectiveHost))

	entry, err := p.cache.ComputeIfAbsent(key, func(Key) (*poolEntry, error) {
		db, err := d.Open(ctx, prepared)
		if err != nil {
			return nil, err
		}
		return &poolEntry{key: key, db: db, dialect: d}, nil
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("pool: connect: %w", err)
	}

	p.mu.Lock()
	p.index[key] = entry
	p.mu.Unlock()

	return entry.db, nil
}

func mergeHost(props map[string]string, host string) map[string]string {
	out := make(map[string]string, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["host"] = host
	return out
}

// InUseCount implements selector.PoolStats: total - idle summed across pool
// entries whose instance URL matches endpoint.
func (p *Provider) InUseCount(endpoint string) int {
	total := 0
	// SlidingExpirationCache does not expose enumeration by design (entries
	// are meant to be looked up by key); the pool provider keeps its own
	// lightweight index for the selector's least-connections query.
	p.mu.Lock()
	for k, e := range p.index {
		if k.InstanceURL == endpoint {
			total += e.db.Stats().InUse
		}
	}
	p.mu.Unlock()
	return total
}

// Close shuts down every pooled connection and stops the cleanup task.
func (p *Provider) Close() {
	p.cache.Clear()
}
