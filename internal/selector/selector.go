// Package selector implements the host-selection strategies used by the
// read/write splitter and failover coordinator, per spec.md §2 L5 / §4.6.
package selector

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// Selector picks one host from an eligible set.
type Selector interface {
	// Select picks one of the eligible hosts. Implementations must fail with
	// errs.NoHostsMatchingRoleError when eligible is empty.
	Select(eligible []hostinfo.HostInfo, role hostinfo.Role) (hostinfo.HostInfo, error)
}

func filterEligible(eligible []hostinfo.HostInfo, role hostinfo.Role) []hostinfo.HostInfo {
	out := make([]hostinfo.HostInfo, 0, len(eligible))
	for _, h := range eligible {
		if h.Role == role && h.IsAvailable() {
			out = append(out, h)
		}
	}
	return out
}

// Random selects uniformly at random over the eligible set.
type Random struct {
	Rand *rand.Rand // nil uses the package-level source
}

func (r Random) Select(eligible []hostinfo.HostInfo, role hostinfo.Role) (hostinfo.HostInfo, error) {
	candidates := filterEligible(eligible, role)
	if len(candidates) == 0 {
		return hostinfo.HostInfo{}, errs.NewNoHostsMatchingRole(string(role))
	}
	if r.Rand != nil {
		return candidates[r.Rand.Intn(len(candidates))], nil
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// HighestWeight stable-sorts by weight descending and picks the first.
type HighestWeight struct{}

func (HighestWeight) Select(eligible []hostinfo.HostInfo, role hostinfo.Role) (hostinfo.HostInfo, error) {
	candidates := filterEligible(eligible, role)
	if len(candidates) == 0 {
		return hostinfo.HostInfo{}, errs.NewNoHostsMatchingRole(string(role))
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Weight > candidates[j].Weight })
	return candidates[0], nil
}

// PoolStats reports in-use connection counts for a host, keyed by the
// instance URL clusterlink's internal pool provider uses.
type PoolStats interface {
	// InUseCount returns totalCount - idleCount across every pool entry
	// whose instance URL matches endpoint.
	InUseCount(endpoint string) int
}

// LeastConnections picks the eligible host with the fewest in-use pooled
// connections, stable-sorted ascending.
type LeastConnections struct {
	Stats PoolStats
}

func (l LeastConnections) Select(eligible []hostinfo.HostInfo, role hostinfo.Role) (hostinfo.HostInfo, error) {
	candidates := filterEligible(eligible, role)
	if len(candidates) == 0 {
		return hostinfo.HostInfo{}, errs.NewNoHostsMatchingRole(string(role))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return l.inUse(candidates[i]) < l.inUse(candidates[j])
	})
	return candidates[0], nil
}

func (l LeastConnections) inUse(h hostinfo.HostInfo) int {
	if l.Stats == nil {
		return 0
	}
	return l.Stats.InUseCount(h.Endpoint())
}

// roundRobinState is the per-cluster cursor tracked across calls.
type roundRobinState struct {
	mu             sync.Mutex
	weights        map[string]int // hostID -> weight
	defaultWeight  int
	cursorHostID   string
	remainingSlots int
}

// RoundRobin implements weighted round-robin selection with per-cluster
// state, per spec.md §4.6. One RoundRobin instance must be shared across
// all calls for a given cluster (the cache layer owns that lifetime).
type RoundRobin struct {
	mu     sync.Mutex
	states map[string]*roundRobinState // clusterID -> state
}

// NewRoundRobin constructs an empty RoundRobin selector.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{states: make(map[string]*roundRobinState)}
}

// Configure parses "host:weight,host:weight" pairs and a default weight for
// a given cluster, per spec.md §6 roundRobinHostWeightPairs/DefaultWeight.
// Returns errs.IllegalArgumentError on malformed input.
func (rr *RoundRobin) Configure(clusterID, weightPairs string, defaultWeight int) error {
	if defaultWeight < 1 {
		return errs.NewIllegalArgument("roundRobinDefaultWeight must be >= 1")
	}
	weights := make(map[string]int)
	if weightPairs != "" {
		for _, pair := range splitNonEmpty(weightPairs, ',') {
			host, weightStr, ok := cut(pair, ':')
			if !ok {
				return errs.NewIllegalArgument("malformed roundRobinHostWeightPairs entry: " + pair)
			}
			w, err := parsePositiveInt(weightStr)
			if err != nil {
				return errs.NewIllegalArgument("invalid weight for host " + host + ": " + weightStr)
			}
			weights[host] = w
		}
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.states[clusterID] = &roundRobinState{weights: weights, defaultWeight: defaultWeight}
	return nil
}

// SelectForCluster performs weighted round-robin selection scoped to
// clusterID, lazily defaulting configuration (weight 1 for every host) if
// Configure was never called for this cluster.
func (rr *RoundRobin) SelectForCluster(clusterID string, eligible []hostinfo.HostInfo, role hostinfo.Role) (hostinfo.HostInfo, error) {
	candidates := filterEligible(eligible, role)
	if len(candidates) == 0 {
		return hostinfo.HostInfo{}, errs.NewNoHostsMatchingRole(string(role))
	}
	sorted := hostinfo.SortedByHostID(candidates)

	rr.mu.Lock()
	state, ok := rr.states[clusterID]
	if !ok {
		state = &roundRobinState{weights: map[string]int{}, defaultWeight: 1}
		rr.states[clusterID] = state
	}
	rr.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	cursorIdx := -1
	for i, h := range sorted {
		if h.HostID == state.cursorHostID {
			cursorIdx = i
			break
		}
	}

	if cursorIdx == -1 || state.remainingSlots == 0 {
		next := (cursorIdx + 1) % len(sorted)
		if cursorIdx == -1 {
			next = 0
		}
		state.cursorHostID = sorted[next].HostID
		state.remainingSlots = state.weightFor(sorted[next].HostID)
		cursorIdx = next
	}

	state.remainingSlots--
	return sorted[cursorIdx], nil
}

func (s *roundRobinState) weightFor(hostID string) int {
	if w, ok := s.weights[hostID]; ok {
		return w
	}
	return s.defaultWeight
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func cut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, errs.NewIllegalArgument("empty weight")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errs.NewIllegalArgument("non-integer weight: " + s)
		}
		n = n*10 + int(c-'0')
	}
	if n < 1 {
		return 0, errs.NewIllegalArgument("weight must be >= 1: " + s)
	}
	return n, nil
}
