// Package wrapperconfig loads the wrapper's configuration properties, per
// spec.md §6's property table. Grounded on the teacher's cmd/root.go and
// cmd/config.go: viper-backed property resolution with flag/env overrides
// and a home-directory config file, generalized from dbsafe's flat
// host/port/user table to the wrapper's full property set.
package wrapperconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/healthmonitor"
)

// Config is the wrapper's resolved configuration, per spec.md §6.
type Config struct {
	Plugins                    []string
	AutoSortWrapperPluginOrder bool

	// Engine selects the DriverDialect: "mysql" (Aurora/RDS MySQL, the
	// default), "postgres" (Aurora/RDS PostgreSQL), or "mysql-generic"
	// (self-managed async/Galera/Group Replication MySQL-compatible
	// clusters), per spec.md §2 L3's per-engine dialect adapters.
	Engine   string
	User     string
	Password string
	Host     string
	Port     int
	Database string

	ClusterInstanceHostPattern string
	ClusterID                  string

	ClusterTopologyRefreshRate     time.Duration
	ClusterTopologyHighRefreshRate time.Duration

	FailoverMode                   string
	FailoverTimeout                time.Duration
	FailoverReaderConnectTimeout   time.Duration
	FailoverWriterReconnectInterval time.Duration

	FailureDetectionEnabled  bool
	FailureDetectionTime     time.Duration
	FailureDetectionInterval time.Duration
	FailureDetectionCount    int
	MonitorDisposalTime      time.Duration

	ReaderHostSelectorStrategy string
	RoundRobinHostWeightPairs  string
	RoundRobinDefaultWeight    int

	TransferSessionStateOnSwitch bool
	ResetSessionStateOnClose     bool
	RollbackOnSwitch             bool

	EnableGreenHostReplacement bool

	CustomEndpointInfoRefreshRate        time.Duration
	WaitForCustomEndpointInfo            bool
	WaitForCustomEndpointInfoTimeout     time.Duration
	CustomEndpointMonitorExpiration      time.Duration
	CustomEndpointRegion                 string

	WrapperConnectTimeout time.Duration
	WrapperQueryTimeout   time.Duration

	// MonitoringProps is healthmonitor.MonitoringProps applied to the loaded
	// properties: every property, with each "monitoring_"-prefixed override
	// also stored under its unprefixed key.
	MonitoringProps map[string]string

	// Extra holds every other unrecognized key, passed through verbatim to
	// the underlying driver per spec.md's "unknown properties pass through".
	Extra map[string]string
}

// Defaults returns spec.md §6's documented defaults. FailoverMode is left
// empty: the open question on its default is resolved by the caller, which
// knows the initial host's role (spec.md's "resolved explicitly per initial
// host classification": strict-writer for a writer-cluster or instance
// endpoint, reader-or-writer for a reader-cluster endpoint).
func Defaults() Config {
	return Config{
		Plugins:                    []string{"auroraConnectionTracker", "failover", "efm2"},
		AutoSortWrapperPluginOrder: true,

		Engine: "mysql",
		Port:   3306,

		ClusterTopologyRefreshRate:     30 * time.Second,
		ClusterTopologyHighRefreshRate: 100 * time.Millisecond,

		FailoverTimeout:                  300 * time.Second,
		FailoverReaderConnectTimeout:     30 * time.Second,
		FailoverWriterReconnectInterval:  2 * time.Second,

		FailureDetectionEnabled:  true,
		FailureDetectionTime:     30 * time.Second,
		FailureDetectionInterval: 5 * time.Second,
		FailureDetectionCount:    3,
		MonitorDisposalTime:      600 * time.Second,

		ReaderHostSelectorStrategy: "random",
		RoundRobinDefaultWeight:    1,

		TransferSessionStateOnSwitch: true,
		ResetSessionStateOnClose:     true,
		RollbackOnSwitch:             true,

		EnableGreenHostReplacement: false,

		CustomEndpointInfoRefreshRate:    10 * time.Second,
		WaitForCustomEndpointInfo:        true,
		WaitForCustomEndpointInfoTimeout: 10 * time.Second,
		CustomEndpointMonitorExpiration:  900 * time.Second,

		WrapperConnectTimeout: 10 * time.Second,
		WrapperQueryTimeout:   20 * time.Second,

		MonitoringProps: map[string]string{},
		Extra:           map[string]string{},
	}
}

// knownKeys lists every top-level property Config recognizes by name, so
// Load can route everything else to Extra.
var knownKeys = map[string]bool{
	"plugins": true, "autosortwrapperpluginorder": true,
	"engine":  true,
	"user": true, "password": true, "host": true, "port": true, "database": true,
	"clusterinstancehostpattern": true, "clusterid": true,
	"clustertopologyrefreshratems": true, "clustertopologyhighrefreshratems": true,
	"failovermode": true, "failovertimeoutms": true,
	"failoverreaderconnecttimeoutms": true, "failoverwriterreconnectintervalms": true,
	"failuredetectionenabled": true, "failuredetectiontimems": true,
	"failuredetectionintervalms": true, "failuredetectioncount": true,
	"monitordisposaltimems": true,
	"readerhostselectorstrategy": true, "roundrobinhostweightpairs": true,
	"roundrobindefaultweight": true,
	"transfersessionstateonswitch": true, "resetsessionstateonclose": true,
	"rollbackonswitch": true, "enablegreenhostreplacement": true,
	"customendpointinforefreshratems": true, "waitforcustomendpointinfo": true,
	"waitforcustomendpointinfotimeoutms": true, "customendpointmonitorexpirationms": true,
	"customendpointregion": true,
	"wrapperconnecttimeoutms": true, "wrapperquerytimeoutms": true,
}

// Load resolves Config from viper's merged property set (flags, env,
// config file, defaults), following the teacher's initConfig: an explicit
// file wins, else $HOME/.dbsafe/config.yaml's wrapper equivalent
// ($HOME/.clusterlink/config.yaml), with CLUSTERLINK_-prefixed env vars
// automatically bound. raw carries every property the caller assembled
// (typically flags merged over a config file already read into v);
// unrecognized keys land in Extra, "monitoring_"-prefixed ones in
// MonitoringProps via healthmonitor.MonitoringProps.
func Load(v *viper.Viper, raw map[string]string) (Config, error) {
	cfg := Defaults()

	if v != nil {
		v.SetEnvPrefix("CLUSTERLINK")
		v.AutomaticEnv()
	}

	merged := map[string]string{}
	for k, val := range raw {
		merged[k] = val
	}

	get := func(key string) (string, bool) {
		if s, ok := merged[key]; ok {
			return s, true
		}
		if v != nil && v.IsSet(key) {
			return v.GetString(key), true
		}
		return "", false
	}

	if s, ok := get("plugins"); ok && s != "" {
		cfg.Plugins = splitCSV(s)
	}
	if s, ok := get("autoSortWrapperPluginOrder"); ok {
		b, err := parseBool(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("autoSortWrapperPluginOrder: " + err.Error())
		}
		cfg.AutoSortWrapperPluginOrder = b
	}

	if s, ok := get("engine"); ok && s != "" {
		cfg.Engine = s
	}
	if s, ok := get("user"); ok {
		cfg.User = s
	}
	if s, ok := get("password"); ok {
		cfg.Password = s
	}
	if s, ok := get("host"); ok {
		cfg.Host = s
	}
	if s, ok := get("port"); ok && s != "" {
		p, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("port: " + err.Error())
		}
		cfg.Port = p
	}
	if s, ok := get("database"); ok {
		cfg.Database = s
	}

	if s, ok := get("clusterInstanceHostPattern"); ok {
		cfg.ClusterInstanceHostPattern = s
	}
	if s, ok := get("clusterId"); ok {
		cfg.ClusterID = s
	}

	if err := loadMillis(get, "clusterTopologyRefreshRateMs", &cfg.ClusterTopologyRefreshRate); err != nil {
		return Config{}, err
	}
	if err := loadMillis(get, "clusterTopologyHighRefreshRateMs", &cfg.ClusterTopologyHighRefreshRate); err != nil {
		return Config{}, err
	}

	if s, ok := get("failoverMode"); ok {
		cfg.FailoverMode = s
	}
	if err := loadMillis(get, "failoverTimeoutMs", &cfg.FailoverTimeout); err != nil {
		return Config{}, err
	}
	if err := loadMillis(get, "failoverReaderConnectTimeoutMs", &cfg.FailoverReaderConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := loadMillis(get, "failoverWriterReconnectIntervalMs", &cfg.FailoverWriterReconnectInterval); err != nil {
		return Config{}, err
	}

	if s, ok := get("failureDetectionEnabled"); ok {
		b, err := parseBool(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("failureDetectionEnabled: " + err.Error())
		}
		cfg.FailureDetectionEnabled = b
	}
	if err := loadMillis(get, "failureDetectionTimeMs", &cfg.FailureDetectionTime); err != nil {
		return Config{}, err
	}
	if err := loadMillis(get, "failureDetectionIntervalMs", &cfg.FailureDetectionInterval); err != nil {
		return Config{}, err
	}
	if s, ok := get("failureDetectionCount"); ok && s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("failureDetectionCount: " + err.Error())
		}
		cfg.FailureDetectionCount = n
	}
	if err := loadMillis(get, "monitorDisposalTimeMs", &cfg.MonitorDisposalTime); err != nil {
		return Config{}, err
	}

	if s, ok := get("readerHostSelectorStrategy"); ok {
		cfg.ReaderHostSelectorStrategy = s
	}
	if s, ok := get("roundRobinHostWeightPairs"); ok {
		cfg.RoundRobinHostWeightPairs = s
	}
	if s, ok := get("roundRobinDefaultWeight"); ok && s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("roundRobinDefaultWeight: " + err.Error())
		}
		cfg.RoundRobinDefaultWeight = n
	}

	if s, ok := get("transferSessionStateOnSwitch"); ok {
		b, err := parseBool(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("transferSessionStateOnSwitch: " + err.Error())
		}
		cfg.TransferSessionStateOnSwitch = b
	}
	if s, ok := get("resetSessionStateOnClose"); ok {
		b, err := parseBool(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("resetSessionStateOnClose: " + err.Error())
		}
		cfg.ResetSessionStateOnClose = b
	}
	if s, ok := get("rollbackOnSwitch"); ok {
		b, err := parseBool(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("rollbackOnSwitch: " + err.Error())
		}
		cfg.RollbackOnSwitch = b
	}
	if s, ok := get("enableGreenHostReplacement"); ok {
		b, err := parseBool(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("enableGreenHostReplacement: " + err.Error())
		}
		cfg.EnableGreenHostReplacement = b
	}

	if err := loadMillis(get, "customEndpointInfoRefreshRateMs", &cfg.CustomEndpointInfoRefreshRate); err != nil {
		return Config{}, err
	}
	if s, ok := get("waitForCustomEndpointInfo"); ok {
		b, err := parseBool(s)
		if err != nil {
			return Config{}, errs.NewIllegalArgument("waitForCustomEndpointInfo: " + err.Error())
		}
		cfg.WaitForCustomEndpointInfo = b
	}
	if err := loadMillis(get, "waitForCustomEndpointInfoTimeoutMs", &cfg.WaitForCustomEndpointInfoTimeout); err != nil {
		return Config{}, err
	}
	if err := loadMillis(get, "customEndpointMonitorExpirationMs", &cfg.CustomEndpointMonitorExpiration); err != nil {
		return Config{}, err
	}
	if s, ok := get("customEndpointRegion"); ok {
		cfg.CustomEndpointRegion = s
	}

	if err := loadMillis(get, "wrapperConnectTimeoutMs", &cfg.WrapperConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := loadMillis(get, "wrapperQueryTimeoutMs", &cfg.WrapperQueryTimeout); err != nil {
		return Config{}, err
	}

	cfg.MonitoringProps = healthmonitor.MonitoringProps(merged)

	cfg.Extra = map[string]string{}
	for k, val := range merged {
		lk := strings.ToLower(k)
		if knownKeys[lk] || strings.HasPrefix(lk, "monitoring_") {
			continue
		}
		cfg.Extra[k] = val
	}

	return cfg, nil
}

func loadMillis(get func(string) (string, bool), key string, dst *time.Duration) error {
	s, ok := get(key)
	if !ok || s == "" {
		return nil
	}
	ms, err := strconv.Atoi(s)
	if err != nil {
		return errs.NewIllegalArgument(key + ": " + err.Error())
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DefaultConfigPath mirrors the teacher's $HOME/.dbsafe/config.yaml
// convention, generalized to $HOME/.clusterlink/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".clusterlink", "config.yaml"), nil
}
