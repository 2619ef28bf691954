package api

import (
	"github.com/openconduit/openconduit/pkg/target"
)

// ExecRequest runs commands inside a container via the virtualization
// backend.
type ExecRequest struct {
	VMID     int              `json:"vmid" validate:"required,min=1"`
	Commands []string         `json:"commands" validate:"required,min=1,dive,required"`
	Target   target.Overrides `json:"target"`
	Elevated bool             `json:"elevated"`
}

// SSHRunRequest runs commands on a host over the secure-shell backend.
type SSHRunRequest struct {
	Commands []string         `json:"commands" validate:"required,min=1,dive,required"`
	Target   target.Overrides `json:"target"`
	Elevated bool             `json:"elevated"`
}

// BridgeRunRequest runs commands on a device over the bridge backend.
type BridgeRunRequest struct {
	Commands []string         `json:"commands" validate:"required,min=1,dive,required"`
	Target   target.Overrides `json:"target"`
	Elevated bool             `json:"elevated"`
}

// DeployRequest runs a pipeline supplied inline. When repo_url is set and no
// phases are given, the server fills in a clone-and-run pipeline; repo_url and
// workdir become vars either way.
type DeployRequest struct {
	Name     string            `json:"name" validate:"required"`
	Backend  string            `json:"backend" validate:"required"`
	Target   target.Overrides  `json:"target"`
	VMID     int               `json:"vmid"`
	RepoURL  string            `json:"repo_url"`
	Workdir  string            `json:"workdir"`
	Vars     map[string]string `json:"vars"`
	Setup    []DeployStep      `json:"setup"`
	Commands []DeployStep      `json:"commands" validate:"omitempty,min=1,dive"`
}

// DeployStep is one step of an inline pipeline.
type DeployStep struct {
	Name     string `json:"name"`
	Command  string `json:"command" validate:"required"`
	Elevated bool   `json:"elevated"`
}

// ContainerCreateRequest provisions a container via the control plane.
// Omitted sizing fields fall back to a small general-purpose shape. ip_cidr
// accepts an address with prefix or the literal "dhcp".
type ContainerCreateRequest struct {
	Node         string `json:"node"`
	VMID         int    `json:"vmid" validate:"required,min=1"`
	Hostname     string `json:"hostname" validate:"required,hostname_rfc1123,max=255"`
	Cores        int    `json:"cores" validate:"omitempty,min=1"`
	MemoryMB     int    `json:"memory" validate:"omitempty,min=128"`
	Storage      string `json:"storage" validate:"required"`
	RootFSGB     int    `json:"rootfs_gb" validate:"omitempty,min=4"`
	Bridge       string `json:"bridge"`
	IPCIDR       string `json:"ip_cidr"`
	Gateway      string `json:"gateway"`
	SSHPublicKey string `json:"ssh_public_key"`
	Password     string `json:"password"`
	OSTemplate   string `json:"ostemplate" validate:"required"`
	Unprivileged *bool  `json:"unprivileged"`
	Start        *bool  `json:"start"`
}

// ConvergeRequest converges the model set on a target. An empty Models field
// falls back to the process-wide desired list.
type ConvergeRequest struct {
	Backend string           `json:"backend" validate:"required"`
	Target  target.Overrides `json:"target"`
	VMID    int              `json:"vmid"`
	Models  string           `json:"models"`
}

// GPUSelectRequest enumerates a target's GPUs and picks one.
type GPUSelectRequest struct {
	Backend    string           `json:"backend" validate:"required"`
	Target     target.Overrides `json:"target"`
	VMID       int              `json:"vmid"`
	Preference string           `json:"preference"`
}
