package selector

import (
	"testing"

	"github.com/nethalo/clusterlink/internal/hostinfo"
)

func readers(ids ...string) []hostinfo.HostInfo {
	out := make([]hostinfo.HostInfo, len(ids))
	for i, id := range ids {
		out[i] = hostinfo.HostInfo{HostID: id, Host: id, Role: hostinfo.RoleReader, Availability: hostinfo.Available}
	}
	return out
}

// TestRoundRobin_Deterministic covers spec.md T8/S6: weight map {R1:2,R2:3}
// over eligible {R1,R2} yields exactly the deterministic sequence.
func TestRoundRobin_Deterministic(t *testing.T) {
	rr := NewRoundRobin()
	if err := rr.Configure("cluster-1", "R1:2,R2:3", 1); err != nil {
		t.Fatal(err)
	}

	eligible := readers("R1", "R2")
	want := []string{"R1", "R1", "R2", "R2", "R2", "R1", "R1", "R2", "R2", "R2"}

	var got []string
	for i := 0; i < 10; i++ {
		h, err := rr.SelectForCluster("cluster-1", eligible, hostinfo.RoleReader)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, h.HostID)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pick %d = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRoundRobin_InvalidWeight(t *testing.T) {
	rr := NewRoundRobin()
	if err := rr.Configure("c", "R1:abc", 1); err == nil {
		t.Fatal("expected error for non-integer weight")
	}
	if err := rr.Configure("c", "R1:0", 1); err == nil {
		t.Fatal("expected error for weight < 1")
	}
	if err := rr.Configure("c", "", 0); err == nil {
		t.Fatal("expected error for default weight < 1")
	}
}

func TestLeastConnections_PicksMinimum(t *testing.T) {
	stats := fakeStats{"R1": 5, "R2": 1, "R3": 3}
	sel := LeastConnections{Stats: stats}

	h, err := sel.Select(readers("R1", "R2", "R3"), hostinfo.RoleReader)
	if err != nil {
		t.Fatal(err)
	}
	if h.HostID != "R2" {
		t.Fatalf("got %s, want R2", h.HostID)
	}
}

type fakeStats map[string]int

func (f fakeStats) InUseCount(endpoint string) int { return f[endpoint] }

func TestHighestWeight(t *testing.T) {
	hosts := []hostinfo.HostInfo{
		{HostID: "a", Role: hostinfo.RoleReader, Availability: hostinfo.Available, Weight: 1},
		{HostID: "b", Role: hostinfo.RoleReader, Availability: hostinfo.Available, Weight: 5},
	}
	h, err := HighestWeight{}.Select(hosts, hostinfo.RoleReader)
	if err != nil {
		t.Fatal(err)
	}
	if h.HostID != "b" {
		t.Fatalf("got %s, want b", h.HostID)
	}
}

func TestSelect_EmptyEligible_NoHostsMatchingRole(t *testing.T) {
	_, err := Random{}.Select(nil, hostinfo.RoleReader)
	if err == nil {
		t.Fatal("expected NoHostsMatchingRoleError")
	}
}
