// Package devbridge provides the device-bridge transport variant. Commands
// run on an Android-compatible device through the local adb binary; the
// resolved target host names the device, either as a serial or as a
// host:port connect address.
package devbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/transports"
)

const connectTimeout = 15 * time.Second

// Transport implements transports.Transport over the adb binary.
type Transport struct {
	binary string
}

// New creates a device-bridge transport using the given adb binary. An empty
// binary falls back to "adb" on PATH.
func New(binary string) *Transport {
	if binary == "" {
		binary = "adb"
	}
	return &Transport{binary: binary}
}

// Backend identifies this variant.
func (t *Transport) Backend() target.Backend {
	return target.BackendBridge
}

// Open prepares a session for the device named by the target host. A
// host:port address is connected first; a bare serial is used as-is. The adb
// daemon multiplexes device connections, so "fresh session" here means a
// fresh device handshake, not a private socket.
func (t *Transport) Open(ctx context.Context, tgt target.Target) (transports.Session, error) {
	serial := tgt.Host
	if serial == "" {
		return nil, &transports.TransportError{
			Op:          "connect",
			Err:         errors.New("no device serial or connect address"),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	if strings.Contains(serial, ":") {
		if err := t.connect(ctx, serial); err != nil {
			return nil, err
		}
	}

	if err := t.waitForDevice(ctx, serial); err != nil {
		return nil, err
	}

	return &session{binary: t.binary, serial: serial}, nil
}

// connect issues "adb connect host:port". The adb binary reports failures on
// stdout with a zero exit status, so the output is inspected too.
func (t *Transport) connect(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	out, err := t.run(ctx, "connect", address)
	if err != nil {
		return err
	}

	lowered := strings.ToLower(out)
	if strings.Contains(lowered, "failed") || strings.Contains(lowered, "cannot") || strings.Contains(lowered, "refused") {
		return &transports.TransportError{
			Op:          "connect",
			Err:         fmt.Errorf("adb connect %s: %s", address, strings.TrimSpace(out)),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	log.Debug().Str("address", address).Msg("device bridge connected")
	return nil
}

func (t *Transport) waitForDevice(ctx context.Context, serial string) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if _, err := t.run(ctx, "-s", serial, "wait-for-device"); err != nil {
		return err
	}
	return nil
}

// run executes the adb binary itself. Local execution failures (missing
// binary, cancelled context) are transport faults.
func (t *Transport) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &transports.TransportError{
				Op:          "connect",
				Err:         fmt.Errorf("adb %s: %s", strings.Join(args, " "), strings.TrimSpace(out.String())),
				IsTemporary: true,
				IsAuthError: false,
			}
		}
		return "", &transports.TransportError{
			Op:          "connect",
			Err:         fmt.Errorf("adb binary %q: %w", t.binary, err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	return out.String(), nil
}

type session struct {
	binary string
	serial string
}

// Run executes a shell command on the device. When elevated is true the
// command runs under "su -c", which requires a rooted device.
func (s *session) Run(ctx context.Context, command string, elevated bool) (*transports.ExecResult, error) {
	startTime := time.Now()

	shellCmd := command
	if elevated {
		shellCmd = fmt.Sprintf("su -c %s", shellQuote(command))
	}

	log.Debug().
		Str("serial", s.serial).
		Str("command", command).
		Bool("elevated", elevated).
		Msg("executing device command")

	cmd := exec.CommandContext(ctx, s.binary, "-s", s.serial, "shell", shellCmd)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	finishedAt := time.Now()
	result := &transports.ExecResult{
		Stdout:     strings.TrimRight(stdoutBuf.String(), "\n"),
		Stderr:     strings.TrimRight(stderrBuf.String(), "\n"),
		StartedAt:  startTime,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startTime),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, &transports.TransportError{
				Op:          "execute",
				Err:         ctx.Err(),
				IsTemporary: true,
				IsAuthError: false,
			}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			// adb propagates the device-side exit status since protocol v2.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, &transports.TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("adb binary %q: %w", s.binary, runErr),
			IsTemporary: false,
			IsAuthError: false,
		}
	}

	return result, nil
}

// Close is a no-op: the adb daemon owns the underlying connection.
func (s *session) Close() error {
	return nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
