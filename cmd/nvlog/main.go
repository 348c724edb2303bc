// Command nvlog inspects and drives the flash log and parameter stores on
// host-backed volumes.
//
// Usage:
//
//	nvlog [--config path/to/config.yaml] <command>
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/snehjoshi/nvlog/internal/config"
	"github.com/snehjoshi/nvlog/internal/nvm"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "nvlog: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(&app{})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	volume     string

	cfg    *config.Config
	logger *slog.Logger
	nvm    *nvm.NVM
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "nvlog",
		Short:         "Rotating flash log and parameter store tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(a, root.PersistentFlags())

	root.AddCommand(
		newWriteCommand(a),
		newFaultCommand(a),
		newDumpCommand(a),
		newStateCommand(a),
		newCleanCommand(a),
		newParamCommand(a),
		newStatsCommand(a),
		newConfigCommand(a),
	)
	return root
}

func addGlobalFlags(a *app, fs *pflag.FlagSet) {
	fs.StringVarP(&a.configPath, "config", "C", "nvlog.yaml", "path to config `FILE`")
	fs.StringVarP(&a.volume, "volume", "V", "internal", "volume the log commands act on")
}

// loadConfig reads and validates the config and installs the logger.
func (a *app) loadConfig(cmd *cobra.Command) error {
	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	// ── 2. Set up structured logger ──────────────────────────────────────────
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts))
	} else {
		a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
	}
	slog.SetDefault(a.logger)
	return nil
}

// withNVM wraps a command body so it runs against mounted stores that are
// closed again afterwards.
func (a *app) withNVM(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := a.loadConfig(cmd); err != nil {
			return err
		}

		// ── 3. Mount volumes and open stores ─────────────────────────────────
		n, err := nvm.Open(a.cfg, nvm.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.nvm = n
		defer func() {
			if cerr := n.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}
