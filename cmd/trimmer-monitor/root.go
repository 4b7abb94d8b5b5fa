package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sweeney/trimmer-monitor/internal/config"
	"github.com/sweeney/trimmer-monitor/internal/logging"
)

// commandContext carries the persistent flags shared by every subcommand.
type commandContext struct {
	configPath string
	machineID  int
	dbDriver   string
	dbDSN      string
	lockDir    string
	logLevel   string
	logFormat  string
}

// load reads the layered config and applies any flags set on cmd.
func (c *commandContext) load(cmd *cobra.Command, extra func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("machine-id") {
		cfg.MachineID = c.machineID
	}
	if flags.Changed("db-driver") {
		cfg.Database.Driver = c.dbDriver
	}
	if flags.Changed("db-dsn") {
		cfg.Database.DSN = c.dbDSN
	}
	if flags.Changed("lock-dir") {
		cfg.LockDir = c.lockDir
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = c.logFormat
	}
	if extra != nil {
		extra(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "trimmer-monitor",
		Short:         "Camera-based cycle monitor for trimming presses",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path (default "+config.DefaultPath+" if present)")
	pf.IntVar(&ctx.machineID, "machine-id", 0, "Machine this monitor watches")
	pf.StringVar(&ctx.dbDriver, "db-driver", "", `Database driver ("mysql" or "sqlite")`)
	pf.StringVar(&ctx.dbDSN, "db-dsn", "", "Database DSN or SQLite file path")
	pf.StringVar(&ctx.lockDir, "lock-dir", "", "Directory for the per-machine lock file")
	pf.StringVar(&ctx.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&ctx.logFormat, "log-format", "", "Log format (auto, text, json)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newPrintConfigCommand(ctx))
	rootCmd.AddCommand(newInitDBCommand(ctx))
	rootCmd.AddCommand(newSampleConfigCommand())

	return rootCmd
}
