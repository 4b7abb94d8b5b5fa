package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sweeney/trimmer-monitor/internal/config"
	"github.com/sweeney/trimmer-monitor/internal/store"
	"github.com/sweeney/trimmer-monitor/internal/vision"
)

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.SQL, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:  cfg.Database.Driver,
		DSN:     cfg.Database.DSN,
		Timeout: cfg.DBTimeout(),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func newPrintConfigCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "print-config",
		Short: "Print the detection config stored for the machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.load(cmd, nil)
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			mc, err := st.LoadConfig(cmd.Context(), cfg.MachineID)
			if err != nil {
				return err
			}
			lot, err := st.ActiveLot(cmd.Context(), cfg.MachineID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStoredConfig(mc, lot))
			return nil
		},
	}
}

func renderStoredConfig(mc store.MachineConfig, lot string) string {
	if lot == "" {
		lot = "N/A"
	}
	d := mc.Detection
	return renderKeyValues(fmt.Sprintf("Machine %d", mc.MachineID), [][2]string{
		{"Name", mc.Name},
		{"ROI x", strconv.Itoa(d.Region.X)},
		{"ROI y", strconv.Itoa(d.Region.Y)},
		{"ROI width", strconv.Itoa(d.Region.W)},
		{"ROI height", strconv.Itoa(d.Region.H)},
		{"Threshold", strconv.Itoa(d.Threshold)},
		{"Min area", strconv.Itoa(d.MinArea)},
		{"Active lot", lot},
	})
}

func newInitDBCommand(ctx *commandContext) *cobra.Command {
	var (
		name string
		lot  string
	)
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Provision a standalone SQLite database for the machine",
		Long: "Creates the schema in a SQLite database and writes the machine row with the\n" +
			"default detection config. With --lot the lot becomes the active assignment.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.load(cmd, nil)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != store.DriverSQLite {
				return errors.New("init-db only provisions sqlite databases")
			}
			st, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if name == "" {
				name = fmt.Sprintf("Trimmer %d", cfg.MachineID)
			}
			mc := store.MachineConfig{MachineID: cfg.MachineID, Name: name, Detection: vision.DefaultConfig}
			if err := st.UpsertMachine(cmd.Context(), mc); err != nil {
				return err
			}
			if cmd.Flags().Changed("lot") {
				if err := st.AssignLot(cmd.Context(), cfg.MachineID, lot); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "machine %d (%s) provisioned in %s\n", cfg.MachineID, name, cfg.Database.DSN)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Machine name (default \"Trimmer <id>\")")
	cmd.Flags().StringVar(&lot, "lot", "", "Lot to mark as WORKING; empty finishes the current lot")
	return cmd
}

func newSampleConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config",
		Short: "Print an annotated sample config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), config.SampleConfig())
			return nil
		},
	}
}
