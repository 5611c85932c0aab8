package main

import (
	"fmt"

	"github.com/danmuck/ipcmux/internal/config"
	"github.com/spf13/cobra"
)

var (
	initSide      string
	initOverwrite bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage node config files",
}

func init() {
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter node config",
		Long: `The init command writes a starter TOML config for one side of a link.

Example:
  ipcctl config init core-app.toml --side a
  ipcctl config init core-net.toml --side b`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], initSide, initOverwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (side %s)\n", args[0], initSide)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initSide, "side", "a", "Link side, a or b")
	initCmd.Flags().BoolVar(&initOverwrite, "force", false, "Overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Load and validate a node config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadNodeConfig(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: node %s side %s ok\n", args[0], cfg.Name, cfg.Side)
			return nil
		},
	}

	configCmd.AddCommand(initCmd, checkCmd)
	rootCmd.AddCommand(configCmd)
}
