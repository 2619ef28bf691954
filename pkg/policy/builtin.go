package policy

// defaultAllowedExecutables is the baseline set of executables a dispatched
// command may start with. Deployments extend it via NewGuard.
var defaultAllowedExecutables = []string{
	"apt",
	"apt-get",
	"bash",
	"cat",
	"chmod",
	"curl",
	"docker",
	"echo",
	"hostname",
	"ls",
	"mkdir",
	"nvidia-smi",
	"ollama",
	"pct",
	"rm",
	"sh",
	"systemctl",
	"tar",
	"test",
	"uname",
	"uptime",
	"wget",
	"which",
}

const commandGuardRego = `package conduit.guard

import rego.v1

# Shell metacharacters other than the "&&" chain are forbidden outright.
deny contains msg if {
	count(input.metachars) > 0
	msg := sprintf("forbidden shell metacharacters: %s", [concat(" ", input.metachars)])
}

# Every "&&" segment must start with an allow-listed executable.
deny contains msg if {
	some seg in input.segments
	seg == ""
	msg := "empty command segment"
}

deny contains msg if {
	some seg in input.segments
	seg != ""
	not seg in input.executables
	msg := sprintf("executable not permitted: %s", [seg])
}
`
