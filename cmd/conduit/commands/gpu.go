package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openconduit/openconduit/pkg/gpu"
	"github.com/openconduit/openconduit/pkg/target"
)

func newGPUCommand() *cobra.Command {
	var (
		flags      *targetFlags
		backend    string
		vmid       int
		preference string
	)

	cmd := &cobra.Command{
		Use:   "gpu",
		Short: "Enumerate a target's GPUs and pick one",
		Long: `List the GPUs on a target and select one by preference. An integer
preference matches a device index, anything else matches the device name
case-insensitively, and a preference that matches nothing falls back to
the first device.`,
		Example: `  # Pick using the process-wide preference
  conduit gpu --backend ssh

  # Pick the A100 in container 101
  conduit gpu --backend virt --vmid 101 --prefer a100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b := target.ParseBackend(backend)
			if !b.Valid() {
				return fmt.Errorf("unknown backend: %q", backend)
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

			resources, err := gpu.Enumerate(cmd.Context(), dispatcher, b, flags.overrides(), vmid)
			if err != nil {
				return err
			}

			if preference == "" {
				preference = defaults.GPU.Preference
			}
			selected, err := gpu.Select(resources, preference)
			if err != nil {
				return err
			}

			return printResult(map[string]interface{}{
				"selected":  selected,
				"export":    selected.ExportVar(),
				"resources": resources,
			}, func() {
				for _, r := range resources {
					marker := " "
					if r.Index == selected.Index {
						marker = "*"
					}
					fmt.Printf("%s [%d] %s\n", marker, r.Index, r.Name)
				}
				fmt.Println(selected.ExportVar())
			})
		},
	}

	flags = addTargetFlags(cmd)
	cmd.Flags().StringVar(&backend, "backend", "ssh", "backend (ssh, virt, adb)")
	cmd.Flags().IntVar(&vmid, "vmid", 0, "container id for the virt backend")
	cmd.Flags().StringVar(&preference, "prefer", "", "device preference (index or name substring)")

	return cmd
}
