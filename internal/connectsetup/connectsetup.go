// Package connectsetup wires a wrapperconfig.Config and a runtime.Runtime
// into a single ConnectionWrapper: classify the URL, open the initial
// physical connection, discover topology, and assemble the failover
// coordinator and read/write splitter around it. Grounded on the teacher's
// cmd/connect.go, which performs the analogous "connect, detect, wrap in a
// renderer-ready value" sequence for a single standalone probe.
package connectsetup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/dialect/genericdialect"
	"github.com/nethalo/clusterlink/internal/dialect/mysqldialect"
	"github.com/nethalo/clusterlink/internal/dialect/pgdialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/failover"
	"github.com/nethalo/clusterlink/internal/healthmonitor"
	"github.com/nethalo/clusterlink/internal/hostinfo"
	"github.com/nethalo/clusterlink/internal/plugin"
	"github.com/nethalo/clusterlink/internal/rwsplit"
	"github.com/nethalo/clusterlink/internal/runtime"
	"github.com/nethalo/clusterlink/internal/selector"
	"github.com/nethalo/clusterlink/internal/session"
	"github.com/nethalo/clusterlink/internal/urlclassifier"
	"github.com/nethalo/clusterlink/internal/wrapper"
	"github.com/nethalo/clusterlink/internal/wrapperconfig"
)

// Connect opens the initial physical connection to cfg.Host, discovers the
// cluster topology, resolves the configured failoverMode default (spec.md
// §6's open question: strict-writer for a writer-cluster/instance endpoint,
// reader-or-writer for a reader-cluster endpoint), and returns a fully wired
// ConnectionWrapper.
func Connect(ctx context.Context, rt *runtime.Runtime, cfg wrapperconfig.Config) (*wrapper.ConnectionWrapper, string, error) {
	d, err := selectDialect(cfg.Engine)
	if err != nil {
		return nil, "", err
	}

	props := buildProps(cfg)
	db, err := d.Open(ctx, props)
	if err != nil {
		return nil, "", fmt.Errorf("opening initial connection: %w", err)
	}
	if err := d.Probe(ctx, db); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("probing initial connection: %w", err)
	}

	class := urlclassifier.Classify(cfg.Host)
	clusterID := cfg.ClusterID
	if clusterID == "" {
		clusterID = class.DeriveClusterID("")
	}

	hosts, err := rt.Topology.Refresh(ctx, clusterID, d, db)
	if err != nil {
		db.Close()
		return nil, "", fmt.Errorf("discovering topology: %w", err)
	}
	initialHostID, err := d.IdentifyConnection(ctx, db)
	if err != nil {
		db.Close()
		return nil, "", fmt.Errorf("identifying initial host: %w", err)
	}
	initialHost, ok := findHost(hosts, initialHostID)
	if !ok && len(hosts) > 0 {
		initialHost = hosts[0]
	}

	// allowedHosts publishes the custom-endpoint monitor's current
	// membership for cfg.Host, when one has been started for it (spec.md
	// §2 M4/§4.8), into both the failover coordinator's and the
	// read/write splitter's reader-eligibility filtering.
	allowedHosts := func() (customendpoint.AllowedAndBlockedHosts, bool) {
		info, ok := rt.CustomEndpoints.Current(cfg.Host)
		if !ok {
			return customendpoint.AllowedAndBlockedHosts{}, false
		}
		return info.AllowedAndBlockedHosts(), true
	}

	mode := resolveFailoverMode(cfg.FailoverMode, class)
	failoverCfg := failover.DefaultConfig(failover.Mode(mode))
	failoverCfg.FailoverTimeout = cfg.FailoverTimeout
	failoverCfg.ReaderConnectTimeout = cfg.FailoverReaderConnectTimeout
	failoverCfg.WriterReconnectInterval = cfg.FailoverWriterReconnectInterval
	failoverCfg.AllowedHosts = allowedHosts
	fc := failover.NewCoordinator(failoverCfg, rt.Topology, d, clusterID, func(ctx context.Context, h hostinfo.HostInfo) (*sql.DB, error) {
		return rt.Pool.Connect(ctx, d, h.Endpoint(), props)
	})

	sel, err := buildSelector(cfg, clusterID)
	if err != nil {
		db.Close()
		return nil, "", err
	}
	rsCfg := rwsplit.Config{Strategy: cfg.ReaderHostSelectorStrategy, Selector: sel, AllowedHosts: allowedHosts}
	rs := rwsplit.New(rsCfg, rt.Topology, clusterID, rwsplit.PoolConnector(rt.Pool, d, props), props)

	sessions := session.NewService()
	plugins := buildPlugins(cfg, rt, d, props)

	wCfg := wrapper.Config{ConnectTimeout: cfg.WrapperConnectTimeout, QueryTimeout: cfg.WrapperQueryTimeout, RollbackOnSwitch: cfg.RollbackOnSwitch}
	w := wrapper.New(wCfg, d, clusterID, props, rt.Topology, fc, rs, sessions, plugins, cfg.AutoSortWrapperPluginOrder, db, initialHost)
	return w, clusterID, nil
}

// selectDialect resolves cfg.Engine into the DriverDialect implementation
// that actually speaks the cluster's wire protocol, per spec.md §2 L3.
// "mysql" picks the Aurora/RDS MySQL dialect (information_schema.replica_host_status
// topology), "postgres" picks the Aurora/RDS PostgreSQL dialect
// (aurora_replica_status()), and "mysql-generic" picks the self-managed
// async/Galera/Group-Replication dialect. Unset defaults to "mysql", the
// wrapper's primary documented use case.
func selectDialect(engine string) (dialect.DriverDialect, error) {
	switch strings.ToLower(engine) {
	case "", "mysql", "aurora-mysql":
		return mysqldialect.Dialect{}, nil
	case "postgres", "postgresql", "aurora-postgresql":
		return pgdialect.Dialect{}, nil
	case "mysql-generic", "generic":
		return genericdialect.Dialect{}, nil
	default:
		return nil, errs.NewIllegalArgument(fmt.Sprintf("engine: unrecognized value %q", engine))
	}
}

func findHost(hosts []hostinfo.HostInfo, hostID string) (hostinfo.HostInfo, bool) {
	for _, h := range hosts {
		if h.HostID == hostID {
			return h, true
		}
	}
	return hostinfo.HostInfo{}, false
}

// resolveFailoverMode implements spec.md §6's open question.
func resolveFailoverMode(configured string, class urlclassifier.Classification) string {
	if configured != "" {
		return configured
	}
	switch class.Kind {
	case urlclassifier.KindReaderCluster:
		return string(failover.ModeReaderOrWriter)
	default:
		return string(failover.ModeStrictWriter)
	}
}

func buildSelector(cfg wrapperconfig.Config, clusterID string) (selector.Selector, error) {
	switch cfg.ReaderHostSelectorStrategy {
	case "", "random":
		return selector.Random{}, nil
	case "highestWeight":
		return selector.HighestWeight{}, nil
	case "leastConnections":
		return selector.LeastConnections{}, nil
	case "roundRobin":
		rr := selector.NewRoundRobin()
		if err := rr.Configure(clusterID, cfg.RoundRobinHostWeightPairs, orDefault(cfg.RoundRobinDefaultWeight, 1)); err != nil {
			return nil, err
		}
		return roundRobinSelector{rr: rr, clusterID: clusterID}, nil
	default:
		return nil, errs.NewUnsupportedStrategy(cfg.ReaderHostSelectorStrategy)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// roundRobinSelector adapts selector.RoundRobin's cluster-scoped
// SelectForCluster to the generic selector.Selector contract rwsplit drives,
// closing over the one clusterID this wrapper serves.
type roundRobinSelector struct {
	rr        *selector.RoundRobin
	clusterID string
}

func (s roundRobinSelector) Select(eligible []hostinfo.HostInfo, role hostinfo.Role) (hostinfo.HostInfo, error) {
	return s.rr.SelectForCluster(s.clusterID, eligible, role)
}

// buildPlugins resolves cfg.Plugins' T4 collaborator codes into Plugin
// instances. "failover" names a core component wired directly into the
// wrapper (the rt.Pool-backed failover.Coordinator) rather than a
// plugin-pipeline entry, so it's recognized but produces no pipeline stage
// here. "efm2" does resolve to a pipeline stage: plugin.HostMonitoring,
// which registers each execute with rt.HealthMonitor so EFM can abort an
// in-flight call on the active host (spec.md §4.3), skipped only when
// failureDetectionEnabled is false.
func buildPlugins(cfg wrapperconfig.Config, rt *runtime.Runtime, d dialect.DriverDialect, props map[string]string) []plugin.Plugin {
	var out []plugin.Plugin
	for _, code := range cfg.Plugins {
		switch code {
		case "auroraConnectionTracker":
			out = append(out, plugin.AuroraConnectionTracker{})
		case "connectTime":
			out = append(out, plugin.ConnectTime{})
		case "executeTime":
			out = append(out, plugin.ExecuteTime{})
		case "staleDns":
			out = append(out, plugin.NewStaleDNSChecker(cfg.Host, nil))
		case "efm2":
			if cfg.FailureDetectionEnabled {
				out = append(out, plugin.HostMonitoring{
					Service: rt.HealthMonitor,
					Dialect: d,
					Detection: healthmonitor.Params{
						FailureDetectionTime:     cfg.FailureDetectionTime,
						FailureDetectionInterval: cfg.FailureDetectionInterval,
						FailureDetectionCount:    cfg.FailureDetectionCount,
					},
					Open: func(ctx context.Context, host string) (*sql.DB, error) {
						monitoringProps := make(map[string]string, len(props))
						for k, v := range props {
							monitoringProps[k] = v
						}
						monitoringProps["host"] = host
						return d.Open(ctx, monitoringProps)
					},
				})
			}
		case "failover":
			// handled by the failover.Coordinator directly.
		}
	}
	return out
}

func buildProps(cfg wrapperconfig.Config) map[string]string {
	props := map[string]string{}
	for k, v := range cfg.Extra {
		props[k] = v
	}
	props["host"] = cfg.Host
	if cfg.Port != 0 {
		props["port"] = fmt.Sprintf("%d", cfg.Port)
	}
	props["user"] = cfg.User
	props["password"] = cfg.Password
	props["database"] = cfg.Database
	for k, v := range cfg.MonitoringProps {
		props[k] = v
	}
	return props
}
