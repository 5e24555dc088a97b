package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"localsync/core/config"
	"localsync/core/database"
	"localsync/core/reconcile"

	"github.com/spf13/cobra"
)

var resetFlag bool

// cacheCmd groups the state cache maintenance commands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the state cache",
}

// inspectCmd decodes the state cache of the configured sync.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decode the state cache and report what it holds",
	Long: `Reads every persisted node and transfer record of the configured sync
without changing them and prints a JSON summary. With --reset the records are
deleted afterwards so the next start performs a fresh scan.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(".")
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}
		store := database.NewStateStore(db, cfg.SyncID, cfg.Sync.BatchSize)
		if missing, err := store.VerifySchema(); err != nil {
			return err
		} else if len(missing) > 0 {
			return fmt.Errorf("state cache schema incomplete, missing %v", missing)
		}

		report, err := reconcile.Inspect(cmd.Context(), store)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}

		if resetFlag {
			if err := store.Reset(cmd.Context()); err != nil {
				return fmt.Errorf("failed to reset state cache: %w", err)
			}
			fmt.Fprintf(os.Stderr, "state cache of %s cleared\n", cfg.SyncID)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&resetFlag, "reset", false, "Delete the records after inspecting them")
	cacheCmd.AddCommand(inspectCmd)
	RootCmd.AddCommand(cacheCmd)
}
