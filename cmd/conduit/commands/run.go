package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconduit/openconduit/pkg/pipeline"
)

func newRunCommand() *cobra.Command {
	var extraVars map[string]string

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run a deployment pipeline from a CUE manifest",
		Long: `Execute a pipeline manifest: a setup phase followed by a commands phase,
with {{name}} variable substitution applied to every step. The run aborts
at the first failing step.`,
		Example: `  # Run a manifest
  conduit run deploy.cue

  # Override or extend manifest variables
  conduit run deploy.cue --extra-vars version=1.2.3 --extra-vars env=prod`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := pipeline.NewManifestLoader()
			p, err := loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if len(extraVars) > 0 {
				if p.Vars == nil {
					p.Vars = make(map[string]string)
				}
				for k, v := range extraVars {
					p.Vars[k] = v
				}
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

			engine := pipeline.NewEngine(dispatcher, tel)
			result, runErr := engine.Run(cmd.Context(), *p)
			if result != nil {
				printErr := printResult(result, func() {
					fmt.Printf("pipeline %s: %s (%d steps, %s)\n",
						result.Pipeline, result.Status, len(result.Steps), result.Duration)
					for _, step := range result.Steps {
						fmt.Printf("  [%d] %s: %s\n", step.Index, step.Phase, step.Command)
					}
				})
				if printErr != nil {
					return printErr
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringToStringVarP(&extraVars, "extra-vars", "e", nil, "extra pipeline variables")

	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest>...",
		Short: "Validate pipeline manifests without running them",
		Example: `  # Validate one or more manifests
  conduit validate deploy.cue rollback.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := pipeline.NewManifestLoader()
			failed := 0
			for _, path := range args {
				p, err := loader.Load(cmd.Context(), path)
				if err != nil {
					failed++
					fmt.Printf("%s: INVALID: %v\n", path, err)
					continue
				}
				fmt.Printf("%s: ok (pipeline %s, %d steps)\n", path, p.Name, p.Steps())
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d manifests invalid", failed, len(args))
			}
			return nil
		},
	}
}
