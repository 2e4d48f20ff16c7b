package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"redis-tester/internal/api"
	"redis-tester/internal/events"
	"redis-tester/internal/result"
	"redis-tester/internal/scenario"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, Prometheus metrics and the run event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := loadConfig(v)
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd.Context(), fc)
			if err != nil {
				return err
			}
			defer env.Close()

			addr := fc.Server.Addr
			if addr == "" {
				addr = defaultAddr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "redis-tester - HTTP API")
			fmt.Fprintln(out, "=======================")
			fmt.Fprintf(out, "Listening on http://%s\n", addr)
			if env.sandbox != nil {
				fmt.Fprintf(out, "Sandbox: %d node(s)\n", env.sandbox.Size())
			}
			fmt.Fprintln(out, "Press Ctrl+C to stop")
			fmt.Fprintln(out)

			server := api.NewServer(addr, env.engine)
			server.SetMetrics(env.metrics)
			server.SetEventBus(env.bus)
			if env.sandbox != nil {
				server.SetCluster(env.sandbox)
			}
			return server.Start(cmd.Context())
		},
	}
	cmd.Flags().String("addr", defaultAddr, "listen address (e.g. :8080, 0.0.0.0:3000)")
	bindFlags(v, cmd.Flags(), "addr")
	return cmd
}

func newRunCommand(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <kind> <datatype> <load>",
		Short: "Run one test and print its result",
		Long: `Run one test and print its result.

Kinds: single, single-failover, parallel, parallel-failover.
Data types: string, list, set, zset, hash.
Load is the number of keys per client and phase.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			load, err := strconv.Atoi(args[2])
			if err != nil || load < 1 {
				return fmt.Errorf("load must be a positive integer, got %q", args[2])
			}

			fc, err := loadConfig(v)
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd.Context(), fc)
			if err != nil {
				return err
			}
			defer env.Close()

			timeline := env.bus.Subscribe(
				events.EventOutageInjected, events.EventOutageFailed,
				events.EventNodeStopped, events.EventNodeRecovered,
				events.EventWorkerFailed,
			)
			started := time.Now()
			res, runErr := env.engine.Run(cmd.Context(), args[0], args[1], load)
			if res == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
				return runErr
			}

			fmt.Fprintf(out, "Scenario: %s (%s)\n", args[0], res.ID)
			fmt.Fprintln(out, "====================================================")
			fmt.Fprint(out, res.Report())
			fmt.Fprintln(out, "====================================================")
			snap := env.metrics.Snapshot()
			fmt.Fprintf(out, "Operations: %s (%s failed, %s connection lost), %s ops/s\n",
				humanize.Comma(int64(snap.TotalOps)),
				humanize.Comma(int64(snap.FailedOps)),
				humanize.Comma(int64(snap.ConnectionLostOps)),
				humanize.CommafWithDigits(snap.OverallOPS, 1))
			fmt.Fprintf(out, "Elapsed:    %s (started %s)\n",
				time.Since(started).Round(time.Millisecond), humanize.Time(started))
			printTimeline(out, started, timeline)
			return runErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// printTimeline は試験中に届いた障害関連のイベントを開始からの経過時間つきで出力する
func printTimeline(out io.Writer, started time.Time, ch <-chan events.Event) {
	header := false
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !header {
				fmt.Fprintln(out, "Timeline:")
				header = true
			}
			detail := ev.Data.Mode
			if ev.Data.Error != "" {
				detail = ev.Data.Error
			}
			fmt.Fprintf(out, "  +%-9s %-16s %-12s %s\n",
				ev.Timestamp.Sub(started).Round(time.Millisecond), ev.Type, ev.Source, detail)
		default:
			return
		}
	}
}

func newFlushCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Flush every primary of the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := loadConfig(v)
			if err != nil {
				return err
			}
			env, err := newEnvironment(cmd.Context(), fc)
			if err != nil {
				return err
			}
			defer env.Close()

			status := env.engine.Flush(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != result.StatusFlushed {
				return fmt.Errorf("flush failed")
			}
			return nil
		},
	}
}

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the test kinds accepted by run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "利用可能なシナリオ:")
			fmt.Fprintln(out)
			for _, name := range scenario.ListPresets() {
				p, _ := scenario.GetPreset(name)
				fmt.Fprintf(out, "  %-18s %s\n", name, p.Description)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "使用例: redis-tester run single string 1000 --sandbox 1")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the redis-tester version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "redis-tester version %s\n", version)
			return err
		},
	}
}
