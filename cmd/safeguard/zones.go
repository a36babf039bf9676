package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"safeguard/internal/geofence"
	"safeguard/internal/storage"
)

func newZonesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "Risk zone file tools",
	}
	cmd.AddCommand(newZonesValidateCmd(), newZonesImportCmd(flags))
	return cmd
}

func newZonesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check every zone in a zones file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zones, err := geofence.LoadZonesFile(args[0])
			if err != nil {
				return err
			}
			active := 0
			for _, z := range zones {
				if z.Active {
					active++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d zones (%d active) OK\n", args[0], len(zones), active)
			return nil
		},
	}
}

// import replaces the risk_zones table so every instance with
// zones.storage_source picks the file up on its next refresh.
func newZonesImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored zone table with a zones file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := flags.manager()
			if err != nil {
				return err
			}
			cfg := mgr.Get()
			if !cfg.Storage.Enabled {
				return fmt.Errorf("storage is disabled in the config")
			}
			zones, err := geofence.LoadZonesFile(args[0])
			if err != nil {
				return err
			}
			store, err := storage.NewStore(cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := store.Init(ctx); err != nil {
				return err
			}
			if err := store.ReplaceZones(ctx, zones); err != nil {
				return err
			}
			flags.logger(cfg).Info("zones imported", "file", args[0], "zones", len(zones), "driver", cfg.Storage.Driver)
			return nil
		},
	}
}
