// ammbridge bridges the AMM simulation bus to line-oriented TCP clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/amm-sim/tcp-bridge/internal/bridge"
	"github.com/amm-sim/tcp-bridge/internal/debug"
	"github.com/amm-sim/tcp-bridge/internal/discovery"
	"github.com/amm-sim/tcp-bridge/internal/pod"
	"github.com/amm-sim/tcp-bridge/internal/supervisor"
	"github.com/amm-sim/tcp-bridge/internal/telemetry"
)

const version = "1.0.0"

const disabledSentinel = "/tmp/disabled"

var rootCmd = &cobra.Command{
	Use:     "ammbridge",
	Short:   "TCP bridge between the AMM simulation bus and line-protocol clients",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.Bool("discovery", true, "answer UDP discovery probes")
	flags.Int("discovery_port", 8888, "UDP discovery port")
	flags.Int("server_port", 9015, "TCP listen port")
	flags.Bool("pod_mode", false, "run as a multi-manikin pod (TPMS)")
	flags.String("manikin_id", "manikin_1", "default manikin id")
	flags.Int("manikins", 1, "number of manikins to host")
	flags.String("core_id", "AMM_000", "core id of this bridge within a pod")
	flags.BoolP("verbose", "v", false, "verbose logging")
	flags.BoolP("quiet", "q", false, "errors only")

	viper.SetEnvPrefix("AMM")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	debug.SetVerbose(viper.GetBool("verbose"))
	debug.SetQuiet(viper.GetBool("quiet"))

	if err := telemetry.Init(ctx, "ammbridge", version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	registry := bridge.NewRegistry()
	runner := &supervisor.ExecRunner{}
	manikins := pod.New(registry, runner,
		viper.GetString("manikin_id"),
		viper.GetString("core_id"),
		viper.GetInt("manikins"),
		viper.GetBool("pod_mode"))
	defer manikins.Shutdown()

	srv := bridge.NewServer(bridge.Config{
		Addr:         fmt.Sprintf(":%d", viper.GetInt("server_port")),
		Handler:      manikins.HandleLine,
		OnConnect:    manikins.HandleConnect,
		OnDisconnect: manikins.HandleDisconnect,
	}, registry)

	manikins.Announce()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	if viper.GetBool("discovery") {
		responder := &discovery.Responder{
			Port:      viper.GetInt("discovery_port"),
			ManikinID: viper.GetString("manikin_id"),
		}
		g.Go(func() error {
			return responder.Run(ctx)
		})
	}

	g.Go(func() error {
		return watchSentinel(ctx, registry, runner)
	})

	debug.Infof("bridge up, serving on :%d", viper.GetInt("server_port"))
	return g.Wait()
}

// watchSentinel reacts to the remote-authorization sentinel appearing or
// disappearing while the bridge runs. Creation revokes remote access
// immediately instead of waiting for the next ENABLE_REMOTE.
func watchSentinel(ctx context.Context, registry *bridge.Registry, runner supervisor.Runner) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sentinel watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add("/tmp"); err != nil {
		return fmt.Errorf("watch /tmp: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != disabledSentinel {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				debug.Warnf("remote authorization revoked (%s present)", disabledSentinel)
				if err := runner.Stop(supervisor.RTCService); err == nil {
					registry.Broadcast("REMOTE=DISABLED")
				}
			case event.Has(fsnotify.Remove):
				debug.Infof("remote authorization restored (%s removed)", disabledSentinel)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Warnf("sentinel watcher: %v", err)
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
