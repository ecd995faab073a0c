package wrapperconfig

import (
	"testing"
	"time"
)

func TestLoad_DefaultsWhenEmpty(t *testing.T) {
	cfg, err := Load(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 3306 {
		t.Fatalf("got port %d, want 3306", cfg.Port)
	}
	if cfg.FailureDetectionCount != 3 {
		t.Fatalf("got failureDetectionCount %d, want 3", cfg.FailureDetectionCount)
	}
	if !cfg.RollbackOnSwitch || !cfg.TransferSessionStateOnSwitch || !cfg.ResetSessionStateOnClose {
		t.Fatal("expected session-state policy defaults to be true")
	}
	if got := cfg.Plugins; len(got) != 3 || got[0] != "auroraConnectionTracker" {
		t.Fatalf("got plugins %v, want default auroraConnectionTracker,failover,efm2", got)
	}
}

func TestLoad_OverridesMillisAndBooleans(t *testing.T) {
	raw := map[string]string{
		"host":                   "db.example.com",
		"port":                   "3307",
		"clusterId":              "my-cluster",
		"failoverMode":           "strict-reader",
		"failoverTimeoutMs":      "60000",
		"rollbackOnSwitch":       "false",
		"readerHostSelectorStrategy": "roundRobin",
		"roundRobinHostWeightPairs":  "r1:2,r2:3",
	}
	cfg, err := Load(nil, raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "db.example.com" || cfg.Port != 3307 {
		t.Fatalf("got host/port %s/%d", cfg.Host, cfg.Port)
	}
	if cfg.ClusterID != "my-cluster" {
		t.Fatalf("got clusterId %q", cfg.ClusterID)
	}
	if cfg.FailoverMode != "strict-reader" {
		t.Fatalf("got failoverMode %q", cfg.FailoverMode)
	}
	if cfg.FailoverTimeout != 60*time.Second {
		t.Fatalf("got failoverTimeout %v, want 60s", cfg.FailoverTimeout)
	}
	if cfg.RollbackOnSwitch {
		t.Fatal("expected rollbackOnSwitch=false override to take effect")
	}
	if cfg.ReaderHostSelectorStrategy != "roundRobin" {
		t.Fatalf("got readerHostSelectorStrategy %q", cfg.ReaderHostSelectorStrategy)
	}
	if cfg.RoundRobinHostWeightPairs != "r1:2,r2:3" {
		t.Fatalf("got roundRobinHostWeightPairs %q", cfg.RoundRobinHostWeightPairs)
	}
}

func TestLoad_MonitoringAndUnknownPassthrough(t *testing.T) {
	raw := map[string]string{
		"monitoring_connectTimeout": "5000",
		"someDriverSpecificFlag":    "yes",
	}
	cfg, err := Load(nil, raw)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MonitoringProps["connectTimeout"] != "5000" {
		t.Fatalf("expected monitoring_connectTimeout promoted to connectTimeout, got %v", cfg.MonitoringProps)
	}
	if cfg.Extra["someDriverSpecificFlag"] != "yes" {
		t.Fatalf("expected unknown key passed through to Extra, got %v", cfg.Extra)
	}
	if _, ok := cfg.Extra["monitoring_connectTimeout"]; ok {
		t.Fatal("monitoring_ prefixed key should not also land in Extra")
	}
}

func TestLoad_InvalidBooleanFails(t *testing.T) {
	_, err := Load(nil, map[string]string{"rollbackOnSwitch": "maybe"})
	if err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}
