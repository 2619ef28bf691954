// Package config loads the process-wide default configuration consumed by
// target resolution, the virtualization client, the device bridge, GPU
// selection, and model convergence. The Defaults object is constructed once
// at process start and treated as read-only for the process lifetime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults is the immutable process-wide configuration.
//
// Sources are layered: built-in values, then an optional YAML file, then
// environment variables. Per-request overrides sit above all of these and are
// applied later, during target resolution.
type Defaults struct {
	SSH    SSHDefaults    `yaml:"ssh"`
	Virt   VirtDefaults   `yaml:"virt"`
	Bridge BridgeDefaults `yaml:"bridge"`
	GPU    GPUDefaults    `yaml:"gpu"`
	Models ModelDefaults  `yaml:"models"`
}

// SSHDefaults holds the default secure-shell connection parameters.
type SSHDefaults struct {
	Host          string `yaml:"host"`
	User          string `yaml:"user"`
	Port          int    `yaml:"port"`
	KeyPath       string `yaml:"key_path"`
	KeyMaterial   string `yaml:"key_material"`
	Password      string `yaml:"password"`
	StrictHostKey bool   `yaml:"strict_host_key"`
}

// VirtDefaults holds the virtualization control-plane connection parameters.
type VirtDefaults struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Realm      string `yaml:"realm"`
	TokenName  string `yaml:"token_name"`
	TokenValue string `yaml:"token_value"`
	Password   string `yaml:"password"`
	VerifySSL  bool   `yaml:"verify_ssl"`

	// PasswordMinLength is the minimum length accepted for a container root
	// password supplied at creation time.
	PasswordMinLength int `yaml:"password_min_length"`
}

// BridgeDefaults holds the device-bridge (adb) parameters.
type BridgeDefaults struct {
	Binary         string `yaml:"binary"`
	Serial         string `yaml:"serial"`
	ConnectAddress string `yaml:"connect_address"`
}

// GPUDefaults holds the GPU selection preference.
type GPUDefaults struct {
	Preference string `yaml:"preference"`
}

// ModelDefaults holds the desired model set for convergence.
type ModelDefaults struct {
	// Raw is the comma/newline separated, commentable list of model names.
	Raw string `yaml:"raw"`

	// File optionally points at a file whose contents replace Raw.
	File string `yaml:"file"`
}

// Builtin returns the built-in defaults that sit at the bottom of the chain.
func Builtin() *Defaults {
	return &Defaults{
		SSH: SSHDefaults{
			User: "root",
			Port: 22,
		},
		Virt: VirtDefaults{
			Port:              8006,
			Realm:             "pam",
			PasswordMinLength: 5,
		},
		Bridge: BridgeDefaults{
			Binary: "adb",
		},
	}
}

// Load builds the Defaults chain: built-ins, overlaid by the YAML file at
// path (if non-empty), overlaid by environment variables.
func Load(path string) (*Defaults, error) {
	d := Builtin()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read defaults file: %w", err)
		}
		if err := yaml.Unmarshal(data, d); err != nil {
			return nil, fmt.Errorf("failed to parse defaults file %s: %w", path, err)
		}
	}

	d.applyEnv()
	return d, nil
}

// FromEnv builds Defaults from built-ins and environment only.
func FromEnv() *Defaults {
	d := Builtin()
	d.applyEnv()
	return d
}

// applyEnv overlays environment variables onto d. For each field the primary
// variable wins over its legacy alias, which wins over whatever is already
// set. The DEFAULT_SSH_*/PVE_SSH_* pairs are kept from the original
// controller so existing deployments keep working.
func (d *Defaults) applyEnv() {
	setString(&d.SSH.Host, "DEFAULT_SSH_HOST", "PVE_SSH_HOST")
	setString(&d.SSH.User, "DEFAULT_SSH_USER", "PVE_SSH_USER")
	setPort(&d.SSH.Port, "DEFAULT_SSH_PORT", "PVE_SSH_PORT")
	setString(&d.SSH.KeyPath, "DEFAULT_SSH_KEY_PATH", "PVE_SSH_KEY_PATH")
	setString(&d.SSH.KeyMaterial, "DEFAULT_SSH_KEY_B64", "")
	setString(&d.SSH.Password, "DEFAULT_SSH_PASSWORD", "PVE_SSH_PASSWORD")
	if v := envNonEmpty("DEFAULT_SSH_STRICT_HOST_KEY"); v != "" {
		d.SSH.StrictHostKey = boolValue(v)
	}

	setString(&d.Virt.Host, "PROXMOX_HOST", "")
	setPort(&d.Virt.Port, "PROXMOX_PORT", "")
	setString(&d.Virt.User, "PROXMOX_USER", "")
	setString(&d.Virt.Realm, "PROXMOX_REALM", "")
	setString(&d.Virt.TokenName, "PROXMOX_TOKEN_NAME", "")
	setString(&d.Virt.TokenValue, "PROXMOX_TOKEN_VALUE", "")
	setString(&d.Virt.Password, "PROXMOX_PASSWORD", "")
	if v := envNonEmpty("LXC_PASSWORD_MIN_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.Virt.PasswordMinLength = n
		}
	}
	if v := envNonEmpty("PROXMOX_VERIFY_SSL"); v != "" {
		d.Virt.VerifySSL = boolValue(v)
	} else if v := envNonEmpty("VERIFY_SSL"); v != "" {
		d.Virt.VerifySSL = boolValue(v)
	}

	setString(&d.Bridge.Binary, "ADB_BINARY", "")
	setString(&d.Bridge.Serial, "ADB_SERIAL", "")
	setString(&d.Bridge.ConnectAddress, "ADB_CONNECT_ADDRESS", "")

	setString(&d.GPU.Preference, "GPU_PREFERENCE", "PREFERRED_GPU")

	setString(&d.Models.Raw, "MODELS", "")
	setString(&d.Models.File, "MODELS_FILE", "")
}

// DesiredModels returns the raw desired model list, reading Models.File if it
// is set.
func (d *Defaults) DesiredModels() (string, error) {
	if d.Models.File != "" {
		data, err := os.ReadFile(d.Models.File)
		if err != nil {
			return "", fmt.Errorf("failed to read models file: %w", err)
		}
		return string(data), nil
	}
	return d.Models.Raw, nil
}

func setString(dst *string, primary, legacy string) {
	if v := envNonEmpty(primary); v != "" {
		*dst = v
		return
	}
	if legacy != "" {
		if v := envNonEmpty(legacy); v != "" {
			*dst = v
		}
	}
}

func setPort(dst *int, primary, legacy string) {
	v := envNonEmpty(primary)
	if v == "" && legacy != "" {
		v = envNonEmpty(legacy)
	}
	if v == "" {
		return
	}
	if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
		*dst = p
	}
}

func envNonEmpty(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func boolValue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
