package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/ipcmux/internal/config"
	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	demoCount int
	demoEvery time.Duration
	demoServe bool
)

func init() {
	cmd := newDemoCmd()
	cmd.Flags().IntVar(&demoCount, "count", 3, "Pings to send, 0 pings until interrupted")
	cmd.Flags().DurationVar(&demoEvery, "every", 100*time.Millisecond, "Delay between pings")
	cmd.Flags().BoolVar(&demoServe, "serve", false, "Keep the admin server up after the pings")
	rootCmd.AddCommand(cmd)
}

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run both sides of a link in one process",
		Long: `The demo command maps an in-process region, starts core-app on side a and
core-net on side b, handshakes, and pings across the link with the diag group.

Example:
  ipcctl demo --count 5
  ipcctl demo -c core-app.toml --count 0 --serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDemo(ctx, cmd.OutOrStdout(), cfg, logger, demoCount, demoEvery, demoServe)
		},
	}
}

// demoConfigs derives the two sides of an in-process link from one config. Only side a
// serves admin.
func demoConfigs(cfg config.NodeConfig) (config.NodeConfig, config.NodeConfig) {
	a, b := cfg, cfg
	a.Side, b.Side = "a", "b"
	a.Name, b.Name = "core-app", "core-net"
	b.Admin.Enabled = false
	return a, b
}

func runDemo(ctx context.Context, w io.Writer, cfg config.NodeConfig, logger zerolog.Logger, count int, every time.Duration, serve bool) error {
	region, err := shm.NewRegion(shm.NewMemory(cfg.Region.Size), cfg.Region.BlockCount)
	if err != nil {
		return err
	}
	bellA, bellB := shm.NewDoorbellPair()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	cfgA, cfgB := demoConfigs(cfg)
	a, err := newNode(cfgA, region, bellA, logger, cancel)
	if err != nil {
		return err
	}
	defer a.close()
	b, err := newNode(cfgB, region, bellB, logger, cancel)
	if err != nil {
		return err
	}
	defer b.close()

	g, initCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.rpc.Init(initCtx) })
	g.Go(func() error { return b.rpc.Init(initCtx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("link init: %w", err)
	}

	run, runCtx := errgroup.WithContext(ctx)
	adminCtx, stopAdmin := context.WithCancel(runCtx)
	defer stopAdmin()
	run.Go(func() error { return a.serveAdmin(adminCtx) })
	run.Go(func() error {
		defer func() {
			if !serve {
				stopAdmin()
			}
		}()
		if err := a.pingLoop(runCtx, count, every); err != nil {
			return err
		}
		if err := b.diag.Log(zerolog.InfoLevel, "demo pings complete"); err != nil {
			return err
		}
		stats, err := a.diag.Stats(nil)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(w, stats)
		}
		fmt.Fprintf(w, "peer %s: ready=%v groups=%v pings=%d contexts %d/%d\n",
			stats.Node, stats.RPC.Ready, stats.RPC.Groups, stats.Pings,
			stats.RPC.ContextsInUse, stats.RPC.Contexts)
		if stats.Transport != nil {
			fmt.Fprintf(w, "peer transport: side %s free %d/%d blocks\n",
				stats.Transport.Side, stats.Transport.FreeBlocks, stats.Transport.BlockCount)
		}
		return nil
	})
	if err := run.Wait(); err != nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}
