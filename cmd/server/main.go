package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/internal/config"
	"github.com/shehryarbajwa/session-keeper/internal/console"
	"github.com/shehryarbajwa/session-keeper/internal/logging"
)

var (
	// Global flags
	verbose bool
	envFile string

	cfg    *config.Config
	hub    *console.Hub
	logger *zap.Logger
)

// rootCmd serves the operator API when run without a subcommand
var rootCmd = &cobra.Command{
	Use:   "session-keeper",
	Short: "Step browser profiles through login and keep their sessions",
	Long: `session-keeper launches one browser profile at a time, restores or captures
its login session, and saves cookies and user agent before moving on.

Run without arguments to start the HTTP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Verbose = true
		}

		hub = console.NewHub()
		logger, err = logging.New(cfg.Verbose, hub.Core(logging.Level(cfg.Verbose)))
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file read before the environment")

	profilesDeleteCmd.Flags().BoolVar(&purge, "purge", false, "Also remove the profile directory")
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)
	dbCmd.AddCommand(dbCheckCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(dbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
