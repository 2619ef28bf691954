package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openconduit/openconduit/pkg/converge"
	"github.com/openconduit/openconduit/pkg/target"
)

func newConvergeCommand() *cobra.Command {
	var (
		flags      *targetFlags
		backend    string
		vmid       int
		modelsFile string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge the model set on a target",
		Long: `Bring the models installed on a target in line with the desired list.
Present models are skipped, missing ones are pulled, and the run stops at
the first failure. The desired list comes from --models-file or the
process defaults; with --watch the file is monitored and convergence
re-runs on every change.`,
		Example: `  # Converge using the process-wide desired list
  conduit converge --backend ssh

  # Converge a container against a models file, re-running on changes
  conduit converge --backend virt --vmid 101 --models-file models.txt --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := target.ParseBackend(backend)
			if !b.Valid() {
				return fmt.Errorf("unknown backend: %q", backend)
			}
			if watch && modelsFile == "" {
				return errors.New("--watch requires --models-file")
			}

			defaults, err := loadDefaults()
			if err != nil {
				return err
			}
			tel, err := buildTelemetry("cli")
			if err != nil {
				return err
			}
			dispatcher, err := buildDispatcher(defaults, tel)
			if err != nil {
				return err
			}

			mc := converge.NewModelConverger(dispatcher, converge.New(tel), b, flags.overrides(), vmid)

			readDesired := func() (string, error) {
				if modelsFile != "" {
					data, err := os.ReadFile(modelsFile)
					if err != nil {
						return "", fmt.Errorf("failed to read models file: %w", err)
					}
					return string(data), nil
				}
				return defaults.DesiredModels()
			}

			runOnce := func(ctx context.Context) error {
				raw, err := readDesired()
				if err != nil {
					return err
				}
				report, runErr := mc.Run(ctx, raw)
				if report != nil {
					printErr := printResult(report, func() {
						fmt.Printf("convergence %s: %d applied, %d skipped\n",
							report.Status, report.Applied, report.Skipped)
						for _, u := range report.Units {
							fmt.Printf("  %s: %s\n", u.Unit, u.Outcome)
						}
					})
					if printErr != nil {
						return printErr
					}
				}
				return runErr
			}

			if !watch {
				return runOnce(cmd.Context())
			}

			logger := tel.Logger.NewComponentLogger("watch")
			err = converge.Watch(cmd.Context(), modelsFile, logger, func(ctx context.Context) {
				if err := runOnce(ctx); err != nil {
					logger.WithError(err).Error("convergence pass failed")
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	flags = addTargetFlags(cmd)
	cmd.Flags().StringVar(&backend, "backend", "ssh", "backend (ssh, virt, adb)")
	cmd.Flags().IntVar(&vmid, "vmid", 0, "container id for the virt backend")
	cmd.Flags().StringVar(&modelsFile, "models-file", "", "desired model list file")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run on models file changes")

	return cmd
}
