// Package runtime assembles the process-wide, shared background services a
// wrapper.ConnectionWrapper draws on: the cluster topology cache, the host
// health-monitor cache, the pooled-connection cache, and the custom-endpoint
// monitor cache. Grounded on the teacher's single rootCmd process owning one
// set of long-lived resources (cmd/root.go); generalized here from "one CLI
// process" to "one process hosting many wrapped connections across many
// clusters", each of the four caches already being internally keyed per
// cluster/host/endpoint.
package runtime

import (
	"github.com/nethalo/clusterlink/internal/clustertopology"
	"github.com/nethalo/clusterlink/internal/customendpoint"
	"github.com/nethalo/clusterlink/internal/healthmonitor"
	"github.com/nethalo/clusterlink/internal/pool"
	"github.com/nethalo/clusterlink/internal/wrapperconfig"
)

// Runtime holds the shared caches every wrapped connection in the process
// draws on. One Runtime is constructed per process (or per test) and closed
// once, at shutdown.
type Runtime struct {
	Topology        *clustertopology.Service
	HealthMonitor   *healthmonitor.Service
	Pool            *pool.Provider
	CustomEndpoints *customendpoint.Service
}

// New builds a Runtime from a resolved wrapperconfig.Config, per spec.md §6's
// clusterTopologyRefreshRateMs/HighRefreshRateMs, monitorDisposalTime, and
// customEndpointInfoRefreshRateMs/customEndpointMonitorExpirationMs.
func New(cfg wrapperconfig.Config) *Runtime {
	return &Runtime{
		Topology: clustertopology.NewService(
			cfg.ClusterTopologyRefreshRate,
			cfg.ClusterTopologyHighRefreshRate,
			cfg.MonitorDisposalTime,
		),
		HealthMonitor: healthmonitor.NewService(cfg.MonitorDisposalTime),
		Pool:          pool.NewProvider(),
		CustomEndpoints: customendpoint.NewService(
			cfg.CustomEndpointInfoRefreshRate,
			cfg.CustomEndpointMonitorExpiration,
		),
	}
}

// Close tears down every background cache in a fixed order: custom-endpoint
// monitors and health monitors first (leaf consumers of topology state),
// then topology polling, then pooled connections last so any in-flight
// disposal from the other three can still reach a live pool entry.
func (r *Runtime) Close() {
	r.CustomEndpoints.Close()
	r.HealthMonitor.Close()
	r.Topology.Close()
	r.Pool.Close()
}
