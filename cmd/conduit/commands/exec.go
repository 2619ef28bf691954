package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/openconduit/openconduit/pkg/dispatch"
	"github.com/openconduit/openconduit/pkg/target"
)

func newExecCommand() *cobra.Command {
	var flags *targetFlags

	cmd := &cobra.Command{
		Use:   "exec <vmid> <command>...",
		Short: "Run commands inside a container",
		Long: `Execute commands inside a container through the virtualization backend.
The hypervisor host comes from the process defaults unless overridden.`,
		Example: `  # Run one command in container 101
  conduit exec 101 "uptime"

  # Run a sequence, stopping at the first failure
  conduit exec 101 "apt-get update" "apt-get install -y curl"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vmid, err := strconv.Atoi(args[0])
			if err != nil || vmid <= 0 {
				return fmt.Errorf("invalid container id: %s", args[0])
			}

			return runDispatch(cmd, dispatch.Request{
				Backend:  target.BackendVirt,
				Target:   flags.overrides(),
				VMID:     vmid,
				Commands: args[1:],
				Elevated: flags.elevated,
			})
		},
	}

	flags = addTargetFlags(cmd)
	return cmd
}

func newSSHCommand() *cobra.Command {
	var flags *targetFlags

	cmd := &cobra.Command{
		Use:   "ssh <command>...",
		Short: "Run commands on a host over secure shell",
		Example: `  # Run against the default host
  conduit ssh "uptime"

  # Override the target
  conduit ssh --host admin@web1.example.com:2222 "systemctl status nginx"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, dispatch.Request{
				Backend:  target.BackendSSH,
				Target:   flags.overrides(),
				Commands: args,
				Elevated: flags.elevated,
			})
		},
	}

	flags = addTargetFlags(cmd)
	return cmd
}

// runDispatch wires a one-off dispatcher, runs the request, and prints the
// outcome.
func runDispatch(cmd *cobra.Command, req dispatch.Request) error {
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

	result, dispatchErr := dispatcher.Dispatch(cmd.Context(), req)
	if result != nil {
		printErr := printResult(result, func() {
			for _, r := range result.Results {
				fmt.Printf("$ %s\n", r.Command)
				if r.Result.Stdout != "" {
					fmt.Println(r.Result.Stdout)
				}
				if r.Result.Stderr != "" {
					fmt.Println(r.Result.Stderr)
				}
				if r.Result.ExitCode != 0 {
					fmt.Printf("exit code %d\n", r.Result.ExitCode)
				}
			}
		})
		if printErr != nil {
			return printErr
		}
	}
	return dispatchErr
}
