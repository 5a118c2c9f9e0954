// Package cmd implements the fusionrec command line.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/fusion.record/internal/config"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/monitoring"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/timeutil"
	"github.com/banshee-data/fusion.record/internal/version"
)

// app carries what every subcommand needs once the root pre-run has loaded
// configuration.
type app struct {
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
	fs      fsutil.FileSystem
	clock   timeutil.Clock
}

// formatTs renders ts with the configured display settings.
func (a *app) formatTs(ts payload.Timestamp) string {
	return a.cfg.Display.FormatTimestamp(ts)
}

// NewRootCmd builds the command tree. fs and clock are injected so tests can
// run commands against a temp dir and a fixed time.
func NewRootCmd(fs fsutil.FileSystem, clock timeutil.Clock) *cobra.Command {
	a := &app{fs: fs, clock: clock}

	root := &cobra.Command{
		Use:     "fusionrec",
		Short:   "Inspect, generate and serve multi-sensor fusion records",
		Version: version.String(),
		Long: `fusionrec works with synchronized vehicle and tower sensor recordings
stored as checksummed record files.

It can print and verify records, project lidar points into camera images,
generate synthetic recordings, index record directories into a SQLite
catalog and stream frames to remote clients over gRPC.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	// The log flags are not bound to viper: they only override config and
	// environment when given explicitly.
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./fusionrec.yaml or $HOME/.fusionrec/fusionrec.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")

	root.AddCommand(
		newInfoCmd(a),
		newVerifyCmd(a),
		newFrameCmd(a),
		newProjectCmd(a),
		newSynthCmd(a),
		newCatalogCmd(a),
		newServeCmd(a),
		newRemoteCmd(a),
		newReportCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
		cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
		cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	}
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	a.cfg = cfg
	a.log = monitoring.NewLogger(cfg.Logging, cmd.ErrOrStderr())
	monitoring.UseSlog(a.log)
	return nil
}

// Execute runs the command line against the real filesystem and clock.
func Execute() error {
	if err := NewRootCmd(fsutil.OSFileSystem{}, timeutil.RealClock{}).Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}
