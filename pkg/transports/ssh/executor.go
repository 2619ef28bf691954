package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openconduit/openconduit/pkg/transports"
)

// Run executes a single command on the remote host. A non-zero exit status
// is reported in the result; errors signal transport faults only.
func (s *session) Run(ctx context.Context, command string, elevated bool) (*transports.ExecResult, error) {
	startTime := time.Now()

	log.Debug().
		Str("command", command).
		Bool("elevated", elevated).
		Msg("executing command")

	sshSession, err := s.client.NewSession()
	if err != nil {
		return nil, &transports.TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer sshSession.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	sshSession.Stdout = &stdoutBuf
	sshSession.Stderr = &stderrBuf

	finalCmd := command
	if elevated {
		finalCmd = fmt.Sprintf("sudo %s", command)
	}

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- sshSession.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = sshSession.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = sshSession.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
		// Command completed
	}

	finishedAt := time.Now()
	result := &transports.ExecResult{
		Stdout:     strings.TrimRight(stdoutBuf.String(), "\n"),
		Stderr:     strings.TrimRight(stderrBuf.String(), "\n"),
		StartedAt:  startTime,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startTime),
	}

	log.Debug().
		Str("command", command).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			// Command ran but returned non-zero: a normal outcome, the
			// caller decides whether it is fatal.
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, &transports.TransportError{
			Op:          "execute",
			Err:         execErr,
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	return result, nil
}
