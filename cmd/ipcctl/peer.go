package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	peerPing  int
	peerEvery time.Duration
)

func init() {
	cmd := newPeerCmd()
	cmd.Flags().IntVar(&peerPing, "ping", -1, "Pings to send after init, 0 pings until interrupted, -1 sends none")
	cmd.Flags().DurationVar(&peerEvery, "every", time.Second, "Delay between pings")
	rootCmd.AddCommand(cmd)
}

func newPeerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peer",
		Short: "Run one side of a link over a mapped file",
		Long: `The peer command maps the region file named in the config and runs one side of
the link until interrupted. Start one process per side against the same file.

Example:
  ipcctl peer -c core-app.toml --ping 0
  ipcctl peer -c core-net.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Region.Path == "" {
				return fmt.Errorf("peer needs region.path in the config")
			}
			logger := setupLogger(cfg)

			mem, unmap, err := shm.MapFile(cfg.Region.Path, cfg.Region.Size)
			if err != nil {
				return err
			}
			defer func() {
				if err := unmap(); err != nil {
					logger.Warn().Err(err).Msg("unmap region")
				}
			}()
			region, err := shm.NewRegion(mem, cfg.Region.BlockCount)
			if err != nil {
				return err
			}
			bell := shm.NewPollDoorbell(cfg.Region.PollInterval)
			defer bell.Stop()

			sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stopSignals()
			ctx, cancel := context.WithCancelCause(sigCtx)
			defer cancel(nil)

			n, err := newNode(cfg, region, bell, logger, cancel)
			if err != nil {
				return err
			}
			defer n.close()

			n.log.Info().Str("region", cfg.Region.Path).Str("side", cfg.Side).Msg("waiting for peer")
			if err := n.rpc.Init(ctx); err != nil {
				return fmt.Errorf("link init: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return n.serveAdmin(gctx) })
			if peerPing >= 0 {
				g.Go(func() error { return n.pingLoop(gctx, peerPing, peerEvery) })
			}
			<-gctx.Done()
			if err := g.Wait(); err != nil {
				return err
			}
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
			return nil
		},
	}
}
