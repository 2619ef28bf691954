// Package virt provides the virtualization transport variant. Commands run
// inside a container by wrapping them in "pct exec" on the hypervisor host,
// reached over the secure-shell transport. Container lifecycle operations go
// through the control-plane HTTPS client in this package instead.
package virt

import (
	"context"
	"fmt"
	"strings"

	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/transports"
	sshtransport "github.com/openconduit/openconduit/pkg/transports/ssh"
)

// Transport implements transports.Transport for container execution. Each
// instance is bound to one container ID for the duration of a request.
type Transport struct {
	vmid  int
	inner *sshtransport.Transport
}

// New creates a virtualization transport bound to the given container ID.
func New(vmid int) *Transport {
	return &Transport{
		vmid:  vmid,
		inner: sshtransport.New(),
	}
}

// Backend identifies this variant.
func (t *Transport) Backend() target.Backend {
	return target.BackendVirt
}

// Open establishes a fresh secure-shell session to the hypervisor host.
func (t *Transport) Open(ctx context.Context, tgt target.Target) (transports.Session, error) {
	inner, err := t.inner.Open(ctx, tgt)
	if err != nil {
		return nil, err
	}
	return &session{inner: inner, vmid: t.vmid}, nil
}

type session struct {
	inner transports.Session
	vmid  int
}

// Run wraps the command in a container exec on the hypervisor. The elevated
// flag is ignored: pct exec already runs as the container's root.
func (s *session) Run(ctx context.Context, command string, elevated bool) (*transports.ExecResult, error) {
	wrapped := fmt.Sprintf("pct exec %d -- bash -lc %s", s.vmid, shellQuote(command))
	return s.inner.Run(ctx, wrapped, false)
}

func (s *session) Close() error {
	return s.inner.Close()
}

// shellQuote single-quotes a string for safe embedding in a shell command.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
