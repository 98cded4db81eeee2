// tdsconn establishes, validates and tears down SQL Server connections.
//
// Subcommands:
//   - connect: open a connection and hold it until interrupted
//   - probe:   check reachability and login without keeping a connection
//   - serve:   run the diagnostics API with a tracked connection pool
//   - migrate: manage the connection history schema
//   - token:   issue an API bearer token
//   - watch:   stream lifecycle events published over MQTT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tdsconn/internal/infrastructure/config"
	"github.com/nerrad567/tdsconn/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries state shared by every subcommand.
type app struct {
	out        io.Writer
	configPath string
	logLevel   string

	cfg *config.Config
	log *logging.Logger
}

// newRootCmd builds the command tree. Command output goes to out; logs go
// to stderr.
func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "tdsconn",
		Short:         "SQL Server connection manager",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default $TDSCONN_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newConnectCmd(a),
		newProbeCmd(a),
		newServeCmd(a),
		newMigrateCmd(a),
		newTokenCmd(a),
		newWatchCmd(a),
	)
	return root
}

// setup loads configuration and initialises the logger.
func (a *app) setup() error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.NewWithWriter(os.Stderr, cfg.Logging, version)
	return nil
}

// loadConfig resolves the config path. An explicit path (flag or
// TDSCONN_CONFIG) must exist; a missing default file falls back to
// built-in defaults plus environment overrides.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("TDSCONN_CONFIG")
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(defaultConfigPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating default config: %w", err)
	}
	return cfg, nil
}
