// Package cli provides the command-line interface for the risk engine.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stealth-trader/internal/config"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies shared across commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "stealth-trader",
		Short: "Position risk and exit management engine",
		Long: `stealth-trader monitors open equity positions through a staged
protective stop ladder, sizes new positions against portfolio-wide
capital caps, and emits a single exit event per position.

Use 'stealth-trader run' to start the monitoring loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/stealth-trader)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newExitsCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stealth-trader v%s\n", Version)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			fmt.Printf("tick_interval:       %s\n", cfg.Engine.TickInterval)
			fmt.Printf("batch_size:          %d\n", cfg.Engine.BatchSize)
			fmt.Printf("failure_escalation:  %d\n", cfg.Engine.FailureEscalation)
			fmt.Printf("session_only:        %v\n", cfg.Engine.SessionOnly)
			fmt.Printf("breakeven_threshold: %.4f\n", cfg.Stages.BreakevenThreshold)
			fmt.Printf("trailing_threshold:  %.4f\n", cfg.Stages.TrailingThreshold)
			fmt.Printf("explosive_threshold: %.4f\n", cfg.Stages.ExplosiveThreshold)
			fmt.Printf("moon_threshold:      %.4f\n", cfg.Stages.MoonThreshold)
			fmt.Printf("max_holding:         %s\n", cfg.Exits.MaxHolding)
			fmt.Printf("provider:            %s\n", cfg.MarketData.Provider)
			fmt.Printf("metrics:             %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config directory",
		Run: func(cmd *cobra.Command, args []string) {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			fmt.Println(dir)
		},
	})

	return cmd
}
