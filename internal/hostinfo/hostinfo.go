// Package hostinfo defines the HostInfo value object and cluster Topology,
// shared by every component above the L-layer.
package hostinfo

import (
	"fmt"
	"sort"
	"time"
)

// Role is a host's position in the cluster's writer election.
type Role string

const (
	RoleWriter  Role = "WRITER"
	RoleReader  Role = "READER"
	RoleUnknown Role = "UNKNOWN"
)

// Availability is a host's last-observed reachability.
type Availability string

const (
	Available    Availability = "AVAILABLE"
	NotAvailable Availability = "NOT_AVAILABLE"
)

// AvailabilityStrategy governs how a host's Availability is computed and
// retried after a failed probe (e.g. simple, or exponential backoff).
type AvailabilityStrategy interface {
	// NextAvailability computes the new availability given the previous one
	// and whether the most recent probe succeeded.
	NextAvailability(prev Availability, probeOK bool, consecutiveFailures int) Availability
}

// SimpleAvailabilityStrategy flips to NotAvailable on the first failed probe
// and back to Available on the first successful one: no retry/backoff.
type SimpleAvailabilityStrategy struct{}

func (SimpleAvailabilityStrategy) NextAvailability(_ Availability, probeOK bool, _ int) Availability {
	if probeOK {
		return Available
	}
	return NotAvailable
}

// HostInfo is a single cluster member. Equality is by (Host, Port).
type HostInfo struct {
	Host                 string
	Port                 int // 0 means "no port"
	Role                 Role
	Availability         Availability
	Weight               int
	HostID               string
	Aliases              map[string]struct{}
	LastUpdateTime       time.Time
	AvailabilityStrategy AvailabilityStrategy
}

// Equal implements (host, port) equality, per spec.md §3.
func (h HostInfo) Equal(other HostInfo) bool {
	return h.Host == other.Host && h.Port == other.Port
}

// Endpoint renders "host:port", or bare host when Port is 0 ("no port").
func (h HostInfo) Endpoint() string {
	if h.Port == 0 {
		return h.Host
	}
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// IsAvailable reports whether the host is eligible for selection.
func (h HostInfo) IsAvailable() bool { return h.Availability == Available }

// HasAlias reports whether name matches the host or one of its aliases.
func (h HostInfo) HasAlias(name string) bool {
	if name == h.Host {
		return true
	}
	_, ok := h.Aliases[name]
	return ok
}

// Topology is the ordered set of hosts for one cluster, conventionally
// writer-first. A zero Topology has no writer and no hosts.
type Topology struct {
	Hosts []HostInfo
}

// Writer returns the host with Role == RoleWriter, if any.
func (t Topology) Writer() (HostInfo, bool) {
	for _, h := range t.Hosts {
		if h.Role == RoleWriter {
			return h, true
		}
	}
	return HostInfo{}, false
}

// Readers returns every host with Role == RoleReader.
func (t Topology) Readers() []HostInfo {
	out := make([]HostInfo, 0, len(t.Hosts))
	for _, h := range t.Hosts {
		if h.Role == RoleReader {
			out = append(out, h)
		}
	}
	return out
}

// ByHostID returns the host with the given instance identifier.
func (t Topology) ByHostID(hostID string) (HostInfo, bool) {
	for _, h := range t.Hosts {
		if h.HostID == hostID {
			return h, true
		}
	}
	return HostInfo{}, false
}

// Validate enforces spec.md §3's Topology invariants: at most one writer,
// every host has a non-empty HostID, HostIDs are unique.
func (t Topology) Validate() error {
	seen := make(map[string]struct{}, len(t.Hosts))
	writers := 0
	for _, h := range t.Hosts {
		if h.HostID == "" {
			return fmt.Errorf("topology: host %s has empty hostId", h.Endpoint())
		}
		if _, dup := seen[h.HostID]; dup {
			return fmt.Errorf("topology: duplicate hostId %q", h.HostID)
		}
		seen[h.HostID] = struct{}{}
		if h.Role == RoleWriter {
			writers++
		}
	}
	if writers > 1 {
		return fmt.Errorf("topology: %d hosts report role WRITER, want at most 1", writers)
	}
	return nil
}

// SortedByHostID returns a copy of hosts stably sorted by HostID, used by
// selectors (round-robin cursor advance, etc.) needing deterministic order.
func SortedByHostID(hosts []HostInfo) []HostInfo {
	out := make([]HostInfo, len(hosts))
	copy(out, hosts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].HostID < out[j].HostID })
	return out
}
