package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

func sampleTopology() hostinfo.Topology {
	return hostinfo.Topology{Hosts: []hostinfo.HostInfo{
		{HostID: "instance-2", Host: "instance-2.cluster.example", Port: 3306, Role: hostinfo.RoleReader, Availability: hostinfo.Available},
		{HostID: "instance-1", Host: "instance-1.cluster.example", Port: 3306, Role: hostinfo.RoleWriter, Availability: hostinfo.Available},
	}}
}

func TestTextRenderer_RenderTopology(t *testing.T) {
	var buf bytes.Buffer
	New("text", &buf).RenderTopology(sampleTopology())
	out := buf.String()
	if !strings.Contains(out, "instance-1") || !strings.Contains(out, "instance-2") {
		t.Fatalf("expected both hosts in output, got %q", out)
	}
	idx1 := strings.Index(out, "instance-1")
	idx2 := strings.Index(out, "instance-2")
	if idx1 == -1 || idx2 == -1 || idx1 > idx2 {
		t.Fatalf("expected hosts sorted by hostId, got %q", out)
	}
}

func TestJSONRenderer_RenderConnectionStatus(t *testing.T) {
	var buf bytes.Buffer
	New("json", &buf).RenderConnectionStatus(ConnectionStatus{
		ClusterID: "cluster-1",
		Target:    hostinfo.HostInfo{HostID: "writer-1", Host: "writer-1.example", Port: 3306, Role: hostinfo.RoleWriter},
		ReadOnly:  false,
	})

	var decoded jsonConnectionStatus
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON, got error %v, body %q", err, buf.String())
	}
	if decoded.ClusterID != "cluster-1" || decoded.Role != "WRITER" {
		t.Fatalf("got %+v", decoded)
	}
}

func TestPlainRenderer_RenderCustomEndpoint(t *testing.T) {
	var buf bytes.Buffer
	New("plain", &buf).RenderCustomEndpoint(
		customendpoint.Info{
			EndpointID: "custom-1", URL: "custom-1.example",
			RoleType: customendpoint.RoleAny, MemberListType: customendpoint.MemberListStatic,
			Members: map[string]struct{}{"i-1": {}},
		},
		customendpoint.AllowedAndBlockedHosts{Allowed: map[string]struct{}{"i-1": {}}},
	)
	out := buf.String()
	if !strings.Contains(out, "custom-1") || !strings.Contains(out, "i-1") {
		t.Fatalf("expected endpoint details in output, got %q", out)
	}
}

func TestMarkdownRenderer_RenderTopology(t *testing.T) {
	var buf bytes.Buffer
	New("markdown", &buf).RenderTopology(sampleTopology())
	out := buf.String()
	if !strings.Contains(out, "## Topology") || !strings.Contains(out, "|---|") {
		t.Fatalf("expected a markdown table, got %q", out)
	}
}

func TestNew_DefaultsToText(t *testing.T) {
	var buf bytes.Buffer
	r := New("unknown-format", &buf)
	if _, ok := r.(*textRenderer); !ok {
		t.Fatalf("expected unknown format to fall back to textRenderer, got %T", r)
	}
}
