package connectsetup

import (
	"testing"

	"github.com/nethalo/clusterlink/internal/dialect/mysqldialect"
	"github.com/nethalo/clusterlink/internal/failover"
	"github.com/nethalo/clusterlink/internal/hostinfo"
	"github.com/nethalo/clusterlink/internal/plugin"
	"github.com/nethalo/clusterlink/internal/runtime"
	"github.com/nethalo/clusterlink/internal/urlclassifier"
	"github.com/nethalo/clusterlink/internal/wrapperconfig"
)

func TestResolveFailoverMode_ConfiguredWins(t *testing.T) {
	got := resolveFailoverMode("strict-reader", urlclassifier.Classification{Kind: urlclassifier.KindWriterCluster})
	if got != "strict-reader" {
		t.Fatalf("got %q, want strict-reader", got)
	}
}

func TestResolveFailoverMode_DefaultsByEndpointKind(t *testing.T) {
	if got := resolveFailoverMode("", urlclassifier.Classification{Kind: urlclassifier.KindReaderCluster}); got != string(failover.ModeReaderOrWriter) {
		t.Fatalf("got %q for reader-cluster, want reader-or-writer", got)
	}
	if got := resolveFailoverMode("", urlclassifier.Classification{Kind: urlclassifier.KindWriterCluster}); got != string(failover.ModeStrictWriter) {
		t.Fatalf("got %q for writer-cluster, want strict-writer", got)
	}
	if got := resolveFailoverMode("", urlclassifier.Classification{Kind: urlclassifier.KindInstance}); got != string(failover.ModeStrictWriter) {
		t.Fatalf("got %q for instance endpoint, want strict-writer", got)
	}
}

func TestBuildSelector_RoundRobinAdaptsClusterScopedSelector(t *testing.T) {
	cfg := wrapperconfig.Defaults()
	cfg.ReaderHostSelectorStrategy = "roundRobin"
	cfg.RoundRobinHostWeightPairs = "r1:2,r2:3"

	sel, err := buildSelector(cfg, "cluster-1")
	if err != nil {
		t.Fatal(err)
	}
	hosts := []hostinfo.HostInfo{
		{HostID: "r1", Role: hostinfo.RoleReader, Availability: hostinfo.Available},
		{HostID: "r2", Role: hostinfo.RoleReader, Availability: hostinfo.Available},
	}
	var picks []string
	for i := 0; i < 5; i++ {
		h, err := sel.Select(hosts, hostinfo.RoleReader)
		if err != nil {
			t.Fatal(err)
		}
		picks = append(picks, h.HostID)
	}
	if picks[0] != "r1" || picks[1] != "r1" || picks[2] != "r2" {
		t.Fatalf("got %v, want round-robin weighted sequence starting r1,r1,r2,...", picks)
	}
}

func TestBuildSelector_UnknownStrategyFails(t *testing.T) {
	cfg := wrapperconfig.Defaults()
	cfg.ReaderHostSelectorStrategy = "nonsense"
	if _, err := buildSelector(cfg, "cluster-1"); err == nil {
		t.Fatal("expected an error for an unrecognized strategy")
	}
}

func TestBuildProps_MergesExtraAndMonitoring(t *testing.T) {
	cfg := wrapperconfig.Defaults()
	cfg.Host = "writer.example"
	cfg.Port = 3306
	cfg.User = "app"
	cfg.Extra = map[string]string{"tls": "true"}
	cfg.MonitoringProps = map[string]string{"connectTimeout": "2000"}

	props := buildProps(cfg)
	if props["host"] != "writer.example" || props["tls"] != "true" || props["connectTimeout"] != "2000" {
		t.Fatalf("got %v", props)
	}
}

func TestBuildPlugins_ResolvesKnownCodesAndSkipsCoreOnes(t *testing.T) {
	cfg := wrapperconfig.Defaults()
	cfg.Plugins = []string{"auroraConnectionTracker", "failover", "executeTime", "efm2", "staleDns"}
	rt := runtime.New(cfg)
	defer rt.Close()

	plugins := buildPlugins(cfg, rt, mysqldialect.Dialect{}, map[string]string{"host": cfg.Host})
	if len(plugins) != 4 {
		t.Fatalf("got %d plugins, want 4 (failover is core, not a pipeline stage; efm2 resolves to hostMonitoring): %#v", len(plugins), plugins)
	}
	names := map[string]bool{}
	for _, p := range plugins {
		names[p.Name()] = true
	}
	for _, want := range []string{"auroraConnectionTracker", "executeTime", "staleDns", "hostMonitoring"} {
		if !names[want] {
			t.Fatalf("expected %s among resolved plugins, got %v", want, names)
		}
	}
}

func TestBuildPlugins_EmptyForUnknownCodes(t *testing.T) {
	cfg := wrapperconfig.Defaults()
	cfg.Plugins = []string{"somethingElse"}
	rt := runtime.New(cfg)
	defer rt.Close()
	if got := buildPlugins(cfg, rt, mysqldialect.Dialect{}, nil); len(got) != 0 {
		t.Fatalf("got %v, want none", got)
	}
}

func TestBuildPlugins_Efm2SkippedWhenFailureDetectionDisabled(t *testing.T) {
	cfg := wrapperconfig.Defaults()
	cfg.Plugins = []string{"efm2"}
	cfg.FailureDetectionEnabled = false
	rt := runtime.New(cfg)
	defer rt.Close()
	if got := buildPlugins(cfg, rt, mysqldialect.Dialect{}, nil); len(got) != 0 {
		t.Fatalf("got %v, want none", got)
	}
}

var _ plugin.Plugin = plugin.AuroraConnectionTracker{}

func TestFindHost_MatchesByHostID(t *testing.T) {
	hosts := []hostinfo.HostInfo{{HostID: "a"}, {HostID: "b"}}
	if h, ok := findHost(hosts, "b"); !ok || h.HostID != "b" {
		t.Fatalf("expected to find host b, got %v %v", h, ok)
	}
	if _, ok := findHost(hosts, "c"); ok {
		t.Fatal("expected no match for unknown hostId")
	}
}
