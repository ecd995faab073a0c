package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// textRenderer produces Lip Gloss styled terminal output.
type textRenderer struct {
	w io.Writer
}

func (r *textRenderer) labelValue(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func (r *textRenderer) RenderTopology(topo hostinfo.Topology) {
	header := TitleStyle.Render("clusterlink — topology")
	fmt.Fprintf(r.w, "\n%s\n", header)

	var lines []string
	for _, h := range sortedHosts(topo) {
		lines = append(lines, fmt.Sprintf("%-20s %-18s %s", h.HostID, roleGlyph(h.Role), availabilityGlyph(h.Availability)))
	}
	box := BoxStyle.Width(60).Render(strings.Join(lines, "\n"))
	fmt.Fprintf(r.w, "%s\n", box)
}

func (r *textRenderer) RenderConnectionStatus(status ConnectionStatus) {
	lines := []string{
		r.labelValue("Cluster:", status.ClusterID),
		r.labelValue("Target:", status.Target.Endpoint()),
		r.labelValue("Role:", string(status.Target.Role)),
		r.labelValue("Read-only:", fmt.Sprintf("%v", status.ReadOnly)),
		r.labelValue("In transaction:", fmt.Sprintf("%v", status.InTransaction)),
	}
	style := SafeBoxStyle
	if status.Target.Role == hostinfo.RoleUnknown {
		style = WarningBoxStyle
	}
	box := style.Width(60).Render(strings.Join(lines, "\n"))
	fmt.Fprintf(r.w, "%s\n", box)
}

func (r *textRenderer) RenderCustomEndpoint(info customendpoint.Info, hosts customendpoint.AllowedAndBlockedHosts) {
	lines := []string{
		r.labelValue("Endpoint:", info.EndpointID),
		r.labelValue("URL:", info.URL),
		r.labelValue("Role type:", string(info.RoleType)),
		r.labelValue("List type:", string(info.MemberListType)),
		r.labelValue("Members:", strings.Join(sortedMembers(info.Members), ", ")),
	}
	if hosts.Allowed != nil {
		lines = append(lines, r.labelValue("Allowed:", strings.Join(sortedMembers(hosts.Allowed), ", ")))
	}
	if hosts.Blocked != nil {
		lines = append(lines, r.labelValue("Blocked:", strings.Join(sortedMembers(hosts.Blocked), ", ")))
	}
	box := BoxStyle.Width(60).Render(strings.Join(lines, "\n"))
	fmt.Fprintf(r.w, "%s\n", box)
}
