// Package target defines the fully-resolved execution Target and the layered
// default resolution chain that produces one from per-request overrides and
// the process-wide defaults.
package target

import (
	"fmt"

	"github.com/openconduit/openconduit/pkg/config"
)

// Backend identifies the transport variant used to reach a Target.
// The set is closed: every request maps to exactly one of these.
type Backend string

const (
	// BackendVirt executes inside a container via the virtualization host.
	BackendVirt Backend = "virtualization-exec"

	// BackendSSH executes on an arbitrary host over secure shell.
	BackendSSH Backend = "secure-shell-exec"

	// BackendBridge executes on an Android-compatible device over adb.
	BackendBridge Backend = "device-bridge-exec"
)

// ParseBackend maps a backend name or shorthand alias onto the backend set.
// Unknown values pass through so callers can report them with Valid.
func ParseBackend(s string) Backend {
	switch s {
	case "ssh":
		return BackendSSH
	case "virt", "lxc":
		return BackendVirt
	case "adb", "bridge":
		return BackendBridge
	}
	return Backend(s)
}

// Valid reports whether b is a member of the closed backend set.
func (b Backend) Valid() bool {
	switch b {
	case BackendVirt, BackendSSH, BackendBridge:
		return true
	}
	return false
}

// RequiresCredential reports whether the backend mandates authentication
// material at resolution time. The virtualization backend may rely on an
// already-authenticated control-plane client; the device bridge
// authenticates at pairing time, outside this controller.
func (b Backend) RequiresCredential() bool {
	return b == BackendSSH
}

// DefaultPort returns the backend's standard port.
func (b Backend) DefaultPort() int {
	switch b {
	case BackendVirt:
		return 8006
	case BackendBridge:
		return 5555
	default:
		return 22
	}
}

// Target is a fully-resolved destination for a command. It is created per
// request, immutable once resolved, and discarded when the request completes.
type Target struct {
	Host          string
	User          string
	Port          int
	KeyPath       string
	KeyMaterial   string
	Password      string
	StrictHostKey bool
}

// HasCredential reports whether any authentication material is present.
func (t Target) HasCredential() bool {
	return t.KeyPath != "" || t.KeyMaterial != "" || t.Password != ""
}

// Overrides carries the optional per-request target fields. Empty fields
// fall through to the process defaults.
type Overrides struct {
	Host          string `json:"host,omitempty"`
	User          string `json:"user,omitempty"`
	Port          int    `json:"port,omitempty"`
	KeyPath       string `json:"key_path,omitempty"`
	KeyMaterial   string `json:"key_data_b64,omitempty"`
	Password      string `json:"password,omitempty"`
	StrictHostKey *bool  `json:"strict_host_key,omitempty"`
}

// MissingCredentialError reports an unresolvable mandatory Target field.
type MissingCredentialError struct {
	Field string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("target resolution failed: no value for %s in request or process defaults", e.Field)
}

// IsMissingCredential reports whether err is a MissingCredentialError.
func IsMissingCredential(err error) bool {
	_, ok := err.(*MissingCredentialError)
	return ok
}

// Resolve produces a Target from request overrides layered over the process
// defaults. Precedence per field, highest first: explicit non-empty override,
// process default, backend built-in. Host has no built-in default.
//
// The override host may be a full spec ("ssh://user@host:port"); user and
// port embedded there take precedence over the separate override fields. The
// device bridge is exempt from host parsing: its host is a serial or connect
// address consumed verbatim by the transport.
//
// Resolve performs no I/O.
func Resolve(backend Backend, o Overrides, d *config.Defaults) (Target, error) {
	if !backend.Valid() {
		return Target{}, fmt.Errorf("unknown backend: %q", backend)
	}

	t := Target{}

	host := firstNonEmpty(o.Host, defaultHost(backend, d))
	if host == "" {
		return Target{}, &MissingCredentialError{Field: "host"}
	}

	var spec HostSpec
	if backend == BackendBridge {
		// Bridge targets name a device: a bare serial or an adb connect
		// address. Either form passes through whole, colons included.
		spec = HostSpec{Host: host}
	} else {
		var err error
		spec, err = ParseHostSpec(host)
		if err != nil {
			return Target{}, err
		}
	}
	t.Host = spec.Host

	// User embedded in the host spec wins over everything else.
	t.User = firstNonEmpty(spec.User, o.User, d.SSH.User, "root")

	switch {
	case spec.Port != 0:
		t.Port = spec.Port
	case o.Port != 0:
		t.Port = o.Port
	case backend != BackendBridge && d.SSH.Port != 0:
		t.Port = d.SSH.Port
	default:
		t.Port = backend.DefaultPort()
	}
	if t.Port < 1 || t.Port > 65535 {
		return Target{}, fmt.Errorf("invalid port: %d", t.Port)
	}

	// Credential precedence: key-path over key-material over password.
	t.KeyPath = firstNonEmpty(o.KeyPath, d.SSH.KeyPath)
	t.KeyMaterial = firstNonEmpty(o.KeyMaterial, d.SSH.KeyMaterial)
	t.Password = firstNonEmpty(o.Password, d.SSH.Password)
	if t.KeyPath != "" {
		t.KeyMaterial = ""
		t.Password = ""
	} else if t.KeyMaterial != "" {
		t.Password = ""
	}

	if !t.HasCredential() && backend.RequiresCredential() {
		return Target{}, &MissingCredentialError{Field: "credential"}
	}

	if o.StrictHostKey != nil {
		t.StrictHostKey = *o.StrictHostKey
	} else {
		t.StrictHostKey = d.SSH.StrictHostKey
	}

	return t, nil
}

// defaultHost returns the backend's process-default host. The secure-shell
// chain serves both the ssh and virtualization backends (the latter executes
// via the hypervisor host); the device bridge falls back to its configured
// connect address or serial.
func defaultHost(backend Backend, d *config.Defaults) string {
	if backend == BackendBridge {
		return firstNonEmpty(d.Bridge.ConnectAddress, d.Bridge.Serial)
	}
	return d.SSH.Host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
