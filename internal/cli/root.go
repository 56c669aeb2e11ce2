// Package cli implements the choreo command line: serving the fanfic
// application over HTTP, invoking actions, validating rules, running
// harness scenarios and reading stored traces.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/choreo/internal/config"
)

// Version is reported by --version and tagged on exported spans.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	home, _ := os.UserHomeDir()
	opts := &RootOptions{v: config.New("", home)}

	cmd := &cobra.Command{
		Use:     "choreo",
		Short:   "choreo - concepts choreographed by synchronization rules",
		Long:    "Runs the fanfic application: independent concepts whose actions are composed by declarative rules.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.ConfigFile != "" {
				if _, err := os.Stat(opts.ConfigFile); err != nil {
					return WrapExitError(ExitCommandError, "failed to read config", err)
				}
				opts.v.SetConfigFile(opts.ConfigFile)
			}
			if err := config.Read(opts.v); err != nil {
				return WrapExitError(ExitCommandError, "failed to read config", err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default .choreo.yaml)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// bind makes a command flag override the config key.
func (o *RootOptions) bind(cmd *cobra.Command, key, flag string) {
	_ = o.v.BindPFlag(key, cmd.Flags().Lookup(flag))
}

// config decodes and validates the configuration.
func (o *RootOptions) config() (config.Config, error) {
	cfg, err := config.Load(o.v)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// logger builds the process logger from the log settings.
func (o *RootOptions) logger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.SlogLevel(o.Verbose)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
