package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"redis-tester/internal/cluster"
	"redis-tester/internal/config"
	"redis-tester/internal/events"
	"redis-tester/internal/logger"
	"redis-tester/internal/metrics"
	"redis-tester/internal/recovery"
	"redis-tester/internal/scenario"
	"redis-tester/internal/store"
)

const (
	envPrefix       = "REDIS_TESTER"
	defaultAddr     = ":8080"
	sandboxPassword = "redis-tester"
)

// overrideKeys は設定ファイルより優先されるフラグ・環境変数
var overrideKeys = []string{
	"log-level",
	"topology", "addresses", "sentinel-addresses", "master-name", "password", "sentinel-password", "connect-timeout-ms",
	"parallel-clients", "max-keys", "worker-timeout", "outage-mode", "suspend-duration",
	"sandbox", "recovery-delay",
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "redis-tester",
		Short:         "redis-tester measures Redis throughput per data type and how clients ride through a primary outage",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Single client, 10k string operations per phase
  redis-tester run single string 10000 --addresses 127.0.0.1:6379 --password secret

  # Parallel clients against an in-process 3-node sandbox, killing the primary mid-run
  redis-tester run parallel-failover hash 5000 --sandbox 3 --parallel-clients 8

  # HTTP API with a config file
  redis-tester serve --config redis-tester.yaml --addr :3000

  # Environment overrides
  REDIS_TESTER_PASSWORD=secret REDIS_TESTER_ADDRESSES=10.0.0.1:6379 redis-tester flush
`,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML/JSON config file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("topology", "", "store topology (standalone, sentinel, cluster)")
	flags.StringSlice("addresses", nil, "store node addresses (host:port)")
	flags.StringSlice("sentinel-addresses", nil, "sentinel addresses (host:port)")
	flags.String("master-name", "", "sentinel master name")
	flags.String("password", "", "store password")
	flags.String("sentinel-password", "", "sentinel password")
	flags.Int("connect-timeout-ms", 0, "dial timeout in milliseconds")
	flags.Int("parallel-clients", 0, "number of clients in parallel runs")
	flags.Int("max-keys", 0, "maximum distinct keys per client")
	flags.String("worker-timeout", "", "deadline for a parallel run (e.g. 10m)")
	flags.String("outage-mode", "", "how the primary is stepped down (kill, suspend, failover)")
	flags.String("suspend-duration", "", "pause length for the suspend outage mode")
	flags.Int("sandbox", 0, "run against N in-process nodes instead of a real store")
	flags.String("recovery-delay", "", "delay before the sandbox restarts a stepped-down node")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return configureLogging(v)
	}

	cmd.AddCommand(
		newServeCommand(v),
		newRunCommand(v),
		newFlushCommand(v),
		newPresetsCommand(),
		newVersionCommand(),
	)

	bindFlags(v, cmd.PersistentFlags(), "config")
	bindFlags(v, cmd.PersistentFlags(), overrideKeys...)
	return cmd
}

// bindFlags はフラグを viper に登録し REDIS_TESTER_* の環境変数でも上書きできるようにする
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := v.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}
}

func configureLogging(v *viper.Viper) error {
	level, ok := logger.ParseLevel(v.GetString("log-level"))
	if !ok {
		return fmt.Errorf("unknown log level: %s", v.GetString("log-level"))
	}
	logger.Default.SetLevel(level)
	return nil
}

// loadConfig は設定ファイルを読み込み、フラグと環境変数で上書きする
// 優先順位: フラグ > 環境変数 > 設定ファイル > デフォルト
func loadConfig(v *viper.Viper) (*config.FileConfig, error) {
	fc := &config.FileConfig{}
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		fc = loaded
		logger.Debug("", "Loaded config file %s", path)
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setSlice := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = v.GetStringSlice(key)
		}
	}

	setString("log-level", &fc.Log.Level)
	setString("addr", &fc.Server.Addr)
	setString("topology", &fc.Store.Topology)
	setSlice("addresses", &fc.Store.Addresses)
	setSlice("sentinel-addresses", &fc.Store.SentinelAddresses)
	setString("master-name", &fc.Store.MasterName)
	setString("password", &fc.Store.Password)
	setString("sentinel-password", &fc.Store.SentinelPassword)
	setInt("connect-timeout-ms", &fc.Store.ConnectTimeoutMs)
	setInt("parallel-clients", &fc.Run.ParallelClients)
	setInt("max-keys", &fc.Run.MaxKeys)
	setString("worker-timeout", &fc.Run.WorkerTimeout)
	setString("outage-mode", &fc.Run.OutageMode)
	setString("suspend-duration", &fc.Run.SuspendDuration)
	setInt("sandbox", &fc.Sandbox.Nodes)
	setString("recovery-delay", &fc.Sandbox.RecoveryDelay)

	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if fc.Log.Level != "" {
		if level, ok := logger.ParseLevel(fc.Log.Level); ok {
			logger.Default.SetLevel(level)
		}
	}
	return fc, nil
}

// environment はコマンドが共有する実行環境
type environment struct {
	engine   *scenario.Engine
	metrics  *metrics.Metrics
	bus      *events.Bus
	sandbox  *cluster.Cluster
	recovery *recovery.Manager
}

// newEnvironment は設定からエンジンを組み立てる
// Sandbox.Nodes > 0 ならプロセス内ノードを起動し、その現在のプライマリに接続する
func newEnvironment(ctx context.Context, fc *config.FileConfig) (*environment, error) {
	desc, err := fc.ToDescriptor()
	if err != nil {
		return nil, err
	}

	env := &environment{
		metrics: metrics.New(),
		bus:     events.NewBus(),
	}

	var opts []store.Option
	if fc.Sandbox.Nodes > 0 {
		desc, err = env.startSandbox(ctx, fc, desc)
		if err != nil {
			env.Close()
			return nil, err
		}
		opts = append(opts, store.WithDialer(env.sandbox.Dial), store.WithTopology(env.sandbox))
	}

	cfg := scenario.DefaultConfig()
	cfg.Descriptor = desc
	if fc.Run.MaxKeys > 0 {
		cfg.MaxKeys = fc.Run.MaxKeys
	}

	env.engine = scenario.New(cfg, store.New(desc, opts...))
	env.engine.SetEventBus(env.bus)
	env.engine.SetMetrics(env.metrics)
	return env, nil
}

func (e *environment) startSandbox(ctx context.Context, fc *config.FileConfig, desc config.Descriptor) (config.Descriptor, error) {
	password := desc.Password
	if password == "" {
		password = sandboxPassword
	}

	e.sandbox = cluster.New()
	e.sandbox.SetEventBus(e.bus)
	if err := e.sandbox.CreateNodes(fc.Sandbox.Nodes, "node", password); err != nil {
		return desc, err
	}
	if err := e.sandbox.StartAll(ctx); err != nil {
		return desc, err
	}

	sd, err := e.sandbox.Descriptor(password)
	if err != nil {
		return desc, err
	}
	sd.ConnectTimeoutMs = desc.ConnectTimeoutMs
	sd.ParallelClientCount = desc.ParallelClientCount
	sd.OutageMode = desc.OutageMode
	sd.SuspendDuration = desc.SuspendDuration
	sd.WorkerTimeout = desc.WorkerTimeout

	rc := recovery.DefaultConfig()
	delay, err := fc.RecoveryDelay()
	if err != nil {
		return desc, err
	}
	if delay > 0 {
		rc.RecoveryDelay = delay
	}
	e.recovery = recovery.New(e.sandbox, rc)
	e.recovery.SetEventBus(e.bus)
	e.recovery.Start(ctx)

	logger.Info("", "Sandbox started with %d node(s), primary %s", fc.Sandbox.Nodes, sd.Addresses[0])
	return sd, nil
}

// Close はエンジン、復旧、サンドボックスの順に解放する
func (e *environment) Close() {
	if e.engine != nil {
		_ = e.engine.Close()
	}
	if e.recovery != nil {
		e.recovery.Stop()
	}
	if e.sandbox != nil {
		e.sandbox.Close()
	}
	e.bus.Close()
}
