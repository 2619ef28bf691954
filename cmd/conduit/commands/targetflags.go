package commands

import (
	"github.com/spf13/cobra"

	"github.com/openconduit/openconduit/pkg/target"
)

// targetFlags are the per-request target overrides shared by every execution
// command. Unset flags fall through to the process defaults.
type targetFlags struct {
	host     string
	user     string
	port     int
	keyPath  string
	password string
	elevated bool
}

func addTargetFlags(cmd *cobra.Command) *targetFlags {
	f := &targetFlags{}
	cmd.Flags().StringVar(&f.host, "host", "", "target host (may embed user and port: user@host:port)")
	cmd.Flags().StringVar(&f.user, "user", "", "target user")
	cmd.Flags().IntVar(&f.port, "port", 0, "target port")
	cmd.Flags().StringVar(&f.keyPath, "key", "", "private key path")
	cmd.Flags().StringVar(&f.password, "password", "", "password")
	cmd.Flags().BoolVar(&f.elevated, "elevated", false, "run commands elevated")
	return f
}

func (f *targetFlags) overrides() target.Overrides {
	return target.Overrides{
		Host:     f.host,
		User:     f.user,
		Port:     f.port,
		KeyPath:  f.keyPath,
		Password: f.password,
	}
}
