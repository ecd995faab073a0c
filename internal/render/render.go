// Package render formats cluster and connection state for terminal output,
// adapted from the teacher's internal/output package: the same
// Renderer-per-format contract and lipgloss styling vocabulary, retargeted
// from "render a DDL safety plan" to "render a cluster topology and the
// wrapper's current connection state" (spec.md §3's Topology/HostInfo and
// §4.8's AllowedAndBlockedHosts).
package render

import (
	"io"
	"sort"

	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// ConnectionStatus is the point-in-time view of a wrapped connection,
// reported by cmd/clusterlink-demo's connect command after it connects.
type ConnectionStatus struct {
	ClusterID     string
	Target        hostinfo.HostInfo
	InTransaction bool
	ReadOnly      bool
}

// Renderer is the per-format output contract, mirroring the teacher's
// Renderer interface but over cluster/connection state instead of a DDL
// analysis result.
type Renderer interface {
	RenderTopology(topo hostinfo.Topology)
	RenderConnectionStatus(status ConnectionStatus)
	RenderCustomEndpoint(info customendpoint.Info, hosts customendpoint.AllowedAndBlockedHosts)
}

// New builds a Renderer for the given format, per spec.md §6's
// `format` flag values text/plain/json/markdown (carried over from the
// teacher's `--format` flag, spec.md §1 keeps an equivalent CLI demo
// surface for manual verification).
func New(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &jsonRenderer{w: w}
	case "plain":
		return &plainRenderer{w: w}
	case "markdown":
		return &markdownRenderer{w: w}
	default:
		return &textRenderer{w: w}
	}
}

func sortedHosts(topo hostinfo.Topology) []hostinfo.HostInfo {
	hosts := make([]hostinfo.HostInfo, len(topo.Hosts))
	copy(hosts, topo.Hosts)
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].HostID < hosts[j].HostID })
	return hosts
}

func roleGlyph(r hostinfo.Role) string {
	switch r {
	case hostinfo.RoleWriter:
		return IconSafe + " WRITER"
	case hostinfo.RoleReader:
		return IconInfo + " READER"
	default:
		return IconWarning + " UNKNOWN"
	}
}

func availabilityGlyph(a hostinfo.Availability) string {
	if a == hostinfo.Available {
		return "available"
	}
	return "unavailable"
}

func sortedMembers(members map[string]struct{}) []string {
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
