package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// jsonRenderer produces machine-readable JSON output.
type jsonRenderer struct {
	w io.Writer
}

type jsonHost struct {
	HostID       string `json:"hostId"`
	Endpoint     string `json:"endpoint"`
	Role         string `json:"role"`
	Availability string `json:"availability"`
	Weight       int    `json:"weight"`
}

type jsonTopology struct {
	Hosts []jsonHost `json:"hosts"`
}

func (r *jsonRenderer) RenderTopology(topo hostinfo.Topology) {
	out := jsonTopology{}
	for _, h := range sortedHosts(topo) {
		out.Hosts = append(out.Hosts, jsonHost{
			HostID: h.HostID, Endpoint: h.Endpoint(), Role: string(h.Role),
			Availability: string(h.Availability), Weight: h.Weight,
		})
	}
	r.encode(out)
}

type jsonConnectionStatus struct {
	ClusterID     string `json:"clusterId"`
	Target        string `json:"target"`
	Role          string `json:"role"`
	ReadOnly      bool   `json:"readOnly"`
	InTransaction bool   `json:"inTransaction"`
}

func (r *jsonRenderer) RenderConnectionStatus(status ConnectionStatus) {
	r.encode(jsonConnectionStatus{
		ClusterID:     status.ClusterID,
		Target:        status.Target.Endpoint(),
		Role:          string(status.Target.Role),
		ReadOnly:      status.ReadOnly,
		InTransaction: status.InTransaction,
	})
}

type jsonCustomEndpoint struct {
	EndpointID     string   `json:"endpointId"`
	URL            string   `json:"url"`
	RoleType       string   `json:"roleType"`
	MemberListType string   `json:"memberListType"`
	Members        []string `json:"members"`
	Allowed        []string `json:"allowed,omitempty"`
	Blocked        []string `json:"blocked,omitempty"`
}

func (r *jsonRenderer) RenderCustomEndpoint(info customendpoint.Info, hosts customendpoint.AllowedAndBlockedHosts) {
	out := jsonCustomEndpoint{
		EndpointID: info.EndpointID, URL: info.URL,
		RoleType: string(info.RoleType), MemberListType: string(info.MemberListType),
		Members: sortedMembers(info.Members),
	}
	if hosts.Allowed != nil {
		out.Allowed = sortedMembers(hosts.Allowed)
	}
	if hosts.Blocked != nil {
		out.Blocked = sortedMembers(hosts.Blocked)
	}
	r.encode(out)
}

func (r *jsonRenderer) encode(v any) {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(r.w, `{"error": %q}`+"\n", err.Error())
	}
}
