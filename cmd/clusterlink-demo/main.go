// Command clusterlink-demo is a manual-verification CLI for the
// ConnectionWrapper: connect to a cluster endpoint, show its topology, and
// report the wrapper's current connection state. Adapted from the teacher's
// dbsafe CLI (cmd/root.go's persistent-flag/viper wiring, cmd/connect.go's
// connect-then-render shape), retargeted from DDL safety analysis to
// cluster connectivity inspection.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/nethalo/clusterlink/internal/connectsetup"
	"github.com/nethalo/clusterlink/internal/hostinfo"
	"github.com/nethalo/clusterlink/internal/render"
	"github.com/nethalo/clusterlink/internal/runtime"
	"github.com/nethalo/clusterlink/internal/wrapperconfig"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "clusterlink-demo",
	Short: "Exercise the clusterlink ConnectionWrapper against a live cluster",
	Long: `clusterlink-demo connects through the ConnectionWrapper, discovers
cluster topology, and prints the wrapper's connection state.

It is a manual-verification harness, not a production client: the library
lives under internal/ and is meant to be embedded, not run standalone.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clusterlink/config.yaml)")
	rootCmd.PersistentFlags().StringP("host", "H", "", "cluster endpoint hostname")
	rootCmd.PersistentFlags().IntP("port", "P", 3306, "database port")
	rootCmd.PersistentFlags().StringP("user", "u", "", "database user")
	rootCmd.PersistentFlags().StringP("password", "p", "", "database password (will prompt if flag present without value)")
	rootCmd.PersistentFlags().Lookup("password").NoOptDefVal = ""
	rootCmd.PersistentFlags().StringP("database", "d", "", "target database")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "output format: text, plain, json, markdown")
	rootCmd.PersistentFlags().String("failover-mode", "", "strict-writer, strict-reader, or reader-or-writer (derived from the endpoint if empty)")
	rootCmd.PersistentFlags().String("reader-strategy", "", "random, roundRobin, highestWeight, or leastConnections")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "show additional debug info")

	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("password", rootCmd.PersistentFlags().Lookup("password"))
	viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("database"))
	viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
	viper.BindPFlag("failoverMode", rootCmd.PersistentFlags().Lookup("failover-mode"))
	viper.BindPFlag("readerHostSelectorStrategy", rootCmd.PersistentFlags().Lookup("reader-strategy"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if path, err := wrapperconfig.DefaultConfigPath(); err == nil {
		viper.AddConfigPath(filepath.Dir(path))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CLUSTERLINK")
	viper.AutomaticEnv()

	// Silently ignore a missing config file — it's optional.
	_ = viper.ReadInConfig()
}

// promptPassword reads a password from the terminal without echoing it.
func promptPassword() string {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return ""
	}
	return string(password)
}

// loadConfig resolves the full config from bound flags, env vars, and the
// config file. requirePassword prompts interactively when the password
// isn't otherwise set — only the commands that open a database connection
// need it; custom-endpoint polling is AWS-credentialed only.
func loadConfig(requirePassword bool) (wrapperconfig.Config, error) {
	raw := map[string]string{}
	for _, key := range []string{"host", "user", "password", "database", "format", "failoverMode", "readerHostSelectorStrategy"} {
		if viper.IsSet(key) {
			raw[key] = viper.GetString(key)
		}
	}
	if viper.IsSet("port") {
		raw["port"] = fmt.Sprintf("%d", viper.GetInt("port"))
	}
	if requirePassword && raw["password"] == "" {
		raw["password"] = promptPassword()
	}
	return wrapperconfig.Load(viper.GetViper(), raw)
}

var connectCmd = &cobra.Command{
	Use:          "connect",
	Short:        "Connect through the wrapper and show topology and connection state",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if cfg.Host == "" {
			return fmt.Errorf("--host is required")
		}

		rt := runtime.New(cfg)
		defer rt.Close()

		ctx := context.Background()
		w, clusterID, err := connectsetup.Connect(ctx, rt, cfg)
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer w.End(ctx)

		hosts, _ := rt.Topology.Cached(clusterID)

		r := render.New(viper.GetString("format"), os.Stdout)
		r.RenderTopology(hostinfo.Topology{Hosts: hosts})
		r.RenderConnectionStatus(render.ConnectionStatus{
			ClusterID: clusterID,
			Target:    w.HostInfo(),
			ReadOnly:  w.IsReadOnly(),
		})
		return nil
	},
}

var topologyCmd = &cobra.Command{
	Use:          "topology",
	Short:        "Discover and print cluster topology without assembling a ConnectionWrapper",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if cfg.Host == "" {
			return fmt.Errorf("--host is required")
		}

		rt := runtime.New(cfg)
		defer rt.Close()

		ctx := context.Background()
		w, clusterID, err := connectsetup.Connect(ctx, rt, cfg)
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer w.End(ctx)

		hosts, _ := rt.Topology.Cached(clusterID)
		render.New(viper.GetString("format"), os.Stdout).RenderTopology(hostinfo.Topology{Hosts: hosts})
		return nil
	},
}

var customEndpointCmd = &cobra.Command{
	Use:          "custom-endpoint",
	Short:        "Poll an RDS custom endpoint once and print its current member list",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		if cfg.Host == "" {
			return fmt.Errorf("--host is required")
		}
		endpointID, _ := cmd.Flags().GetString("endpoint-id")
		if endpointID == "" {
			return fmt.Errorf("--endpoint-id is required")
		}

		ctx := context.Background()
		awsCfgOpts := []func(*config.LoadOptions) error{}
		if cfg.CustomEndpointRegion != "" {
			awsCfgOpts = append(awsCfgOpts, config.WithRegion(cfg.CustomEndpointRegion))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, awsCfgOpts...)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		rdsClient := rds.NewFromConfig(awsCfg)

		rt := runtime.New(cfg)
		defer rt.Close()

		mon, err := rt.CustomEndpoints.StartOrGet(cfg.Host, endpointID, rdsClient, nil, nil)
		if err != nil {
			return fmt.Errorf("starting custom endpoint monitor: %w", err)
		}
		if cfg.WaitForCustomEndpointInfo {
			rt.CustomEndpoints.AwaitFirst(cfg.Host, mon, cfg.WaitForCustomEndpointInfoTimeout)
		}

		info, ok := rt.CustomEndpoints.Current(cfg.Host)
		if !ok {
			return fmt.Errorf("no custom endpoint info available yet for %s", cfg.Host)
		}
		render.New(viper.GetString("format"), os.Stdout).RenderCustomEndpoint(info, info.AllowedAndBlockedHosts())
		return nil
	},
}

func init() {
	customEndpointCmd.Flags().String("endpoint-id", "", "RDS custom endpoint identifier (DBClusterEndpointIdentifier)")
	rootCmd.AddCommand(connectCmd, topologyCmd, customEndpointCmd)
}

func main() {
	Execute()
}
