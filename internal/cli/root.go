package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/logging"
)

// Version is stamped at build time.
var Version = "dev"

// GlobalFlags are shared across all subcommands.
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
	NoColor bool
}

// NewRootCommand builds the leadloft CLI.
func NewRootCommand() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:           "leadloft",
		Short:         "Real-estate CRM mailbox connector",
		Long:          "leadloft connects agent mailboxes over OAuth and turns inbound email into CRM leads via Gmail push notifications.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.Config, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&flags.DBPath, "db-path", "", "override database path")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "machine-readable output")
	root.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable colored output")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newCredentialsCommand(flags))
	root.AddCommand(newDoctorCommand(flags))

	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration from flags and environment.
// The loader is nil when no config file is in play; callers that want
// live reload use it to watch the file.
func loadConfig(flags *GlobalFlags) (*config.Config, *config.Loader, error) {
	path := flags.Config
	if path == "" {
		path = os.Getenv("LEADLOFT_CONFIG_PATH")
	}

	var cfg *config.Config
	var loader *config.Loader
	var err error
	if path == "" {
		// No config file: defaults plus environment substitution only.
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	} else {
		loader = config.NewLoader(path)
		cfg, err = loader.Load()
		if err != nil {
			return nil, nil, err
		}
	}

	if flags.DBPath != "" {
		cfg.Database.Path = flags.DBPath
	}
	return cfg, loader, nil
}

// buildLogger creates the process logger from config and flags.
func buildLogger(cfg *config.Config, flags *GlobalFlags) *logging.Logger {
	level := logging.LogLevel(cfg.Server.LogLevel)
	if flags.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.WithLevel(level))
}
