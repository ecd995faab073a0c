package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// markdownRenderer produces GitHub-flavored markdown, for pasting into an
// incident channel or a runbook.
type markdownRenderer struct {
	w io.Writer
}

func (r *markdownRenderer) RenderTopology(topo hostinfo.Topology) {
	fmt.Fprintln(r.w, "## Topology")
	fmt.Fprintln(r.w, "| host | role | availability |")
	fmt.Fprintln(r.w, "|---|---|---|")
	for _, h := range sortedHosts(topo) {
		fmt.Fprintf(r.w, "| %s | %s | %s |\n", h.HostID, h.Role, availabilityGlyph(h.Availability))
	}
}

func (r *markdownRenderer) RenderConnectionStatus(status ConnectionStatus) {
	fmt.Fprintln(r.w, "## Connection")
	fmt.Fprintf(r.w, "- **cluster**: %s\n", status.ClusterID)
	fmt.Fprintf(r.w, "- **target**: %s\n", status.Target.Endpoint())
	fmt.Fprintf(r.w, "- **role**: %s\n", status.Target.Role)
	fmt.Fprintf(r.w, "- **readOnly**: %v\n", status.ReadOnly)
	fmt.Fprintf(r.w, "- **inTransaction**: %v\n", status.InTransaction)
}

func (r *markdownRenderer) RenderCustomEndpoint(info customendpoint.Info, hosts customendpoint.AllowedAndBlockedHosts) {
	fmt.Fprintln(r.w, "## Custom endpoint")
	fmt.Fprintf(r.w, "- **endpointId**: %s\n", info.EndpointID)
	fmt.Fprintf(r.w, "- **url**: %s\n", info.URL)
	fmt.Fprintf(r.w, "- **roleType**: %s\n", info.RoleType)
	fmt.Fprintf(r.w, "- **listType**: %s\n", info.MemberListType)
	fmt.Fprintf(r.w, "- **members**: %s\n", strings.Join(sortedMembers(info.Members), ", "))
	if hosts.Allowed != nil {
		fmt.Fprintf(r.w, "- **allowed**: %s\n", strings.Join(sortedMembers(hosts.Allowed), ", "))
	}
	if hosts.Blocked != nil {
		fmt.Fprintf(r.w, "- **blocked**: %s\n", strings.Join(sortedMembers(hosts.Blocked), ", "))
	}
}
