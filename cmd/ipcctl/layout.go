package main

import (
	"fmt"
	"io"

	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/spf13/cobra"
)

var (
	layoutSize   int
	layoutBlocks int
)

func init() {
	cmd := newLayoutCmd()
	cmd.Flags().IntVar(&layoutSize, "size", 0, "Region size in bytes (overrides config)")
	cmd.Flags().IntVar(&layoutBlocks, "blocks", 0, "Blocks per direction, 32 or 64 (overrides config)")
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the geometry of a shared region",
		Long: `The layout command derives the per-direction geometry both peers compute from
the region size and block count: queue capacity, block size and offsets.

Example:
  ipcctl layout --size 1184 --blocks 32
  ipcctl layout -c core-app.toml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			size, blocks := cfg.Region.Size, cfg.Region.BlockCount
			if layoutSize > 0 {
				size = layoutSize
			}
			if layoutBlocks > 0 {
				blocks = layoutBlocks
			}
			return runLayout(cmd.OutOrStdout(), size, blocks)
		},
	}
}

type layoutReport struct {
	RegionSize int        `json:"region_size"`
	Direction  shm.Layout `json:"direction"`
	MaxMessage int        `json:"max_message"`
}

func runLayout(w io.Writer, size, blocks int) error {
	l, err := shm.NewLayout((size/2)&^7, blocks)
	if err != nil {
		return err
	}
	report := layoutReport{RegionSize: size, Direction: l, MaxMessage: l.MaxMessage()}
	if jsonOut {
		return printJSON(w, report)
	}
	fmt.Fprintf(w, "region      %d bytes (2 x %d)\n", size, l.Size)
	fmt.Fprintf(w, "blocks      %d x %d bytes at offset %d\n", l.BlockCount, l.BlockSize, l.BlocksOff)
	fmt.Fprintf(w, "queue       %d slots at offset 8\n", l.QueueCap)
	fmt.Fprintf(w, "handshake   offset %d\n", l.HandshakeOff)
	fmt.Fprintf(w, "max message %d bytes\n", l.MaxMessage())
	return nil
}
