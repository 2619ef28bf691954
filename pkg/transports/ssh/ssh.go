package ssh

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/transports"
)

// Transport implements transports.Transport over secure shell.
type Transport struct{}

// New creates the SSH transport variant.
func New() *Transport {
	return &Transport{}
}

// Backend identifies this variant.
func (t *Transport) Backend() target.Backend {
	return target.BackendSSH
}

// Open dials a fresh connection to the target. The returned session is
// private to the caller and must be closed on every exit path.
func (t *Transport) Open(ctx context.Context, tgt target.Target) (transports.Session, error) {
	clientConfig, err := buildClientConfig(tgt)
	if err != nil {
		return nil, &transports.TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	address := fmt.Sprintf("%s:%d", tgt.Host, tgt.Port)
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, &transports.TransportError{
			Op:          "connect",
			Err:         ctx.Err(),
			IsTemporary: true,
			IsAuthError: false,
		}
	case err := <-errChan:
		return nil, &transports.TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: !isAuthError(err),
			IsAuthError: isAuthError(err),
		}
	case client := <-connChan:
		log.Debug().Str("address", address).Msg("SSH connection established")
		return &session{client: client}, nil
	}
}

// isAuthError distinguishes rejected credentials from plain connectivity
// failures in the dial error.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}

// session is one live SSH connection. Commands each get their own channel;
// the connection itself is never shared between dispatches.
type session struct {
	client    *ssh.Client
	closeOnce sync.Once
	closeErr  error
}

// Close releases the connection. Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
