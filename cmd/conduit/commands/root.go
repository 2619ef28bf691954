package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openconduit/openconduit/pkg/config"
	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/policy"
	"github.com/openconduit/openconduit/pkg/telemetry"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	enableGuard bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "OpenConduit - Remote Execution and Deployment Controller",
		Long: `OpenConduit dispatches commands and deployments to remote targets over
interchangeable transports.

Backends:
  - secure-shell-exec: arbitrary hosts over SSH
  - virtualization-exec: containers via the hypervisor host
  - device-bridge-exec: Android-compatible devices over adb

Targets resolve through a layered default chain: per-request overrides,
then process-wide defaults from file or environment, then built-ins.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "defaults file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&enableGuard, "guard", false, "reject commands that fail the policy guard")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newSSHCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newConvergeCommand())
	rootCmd.AddCommand(newGPUCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadDefaults builds the process defaults from built-ins, the optional
// config file, and the environment.
func loadDefaults() (*config.Defaults, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.FromEnv(), nil
}

// buildTelemetry creates the shared telemetry bundle for CLI commands.
func buildTelemetry(version string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return telemetry.New(cfg)
}

// buildDispatcher wires the dispatcher with the optional policy guard.
func buildDispatcher(defaults *config.Defaults, tel *telemetry.Telemetry) (*dispatch.Dispatcher, error) {
	opts := []dispatch.Option{}
	if enableGuard {
		guard, err := policy.NewGuard(*tel.Logger.Zerolog())
		if err != nil {
			return nil, err
		}
		opts = append(opts, dispatch.WithGuard(guard))
	}
	return dispatch.New(defaults, tel, opts...), nil
}

// printResult renders a command result as JSON or a short human summary.
func printResult(v interface{}, human func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human()
	return nil
}
