package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"

	"github.com/openconduit/openconduit/pkg/transports"
)

// UploadFile stages a single file on the remote host via SFTP. Parent
// directories are created as needed. Implements transports.FileUploader.
func (s *session) UploadFile(ctx context.Context, localPath, remotePath string, mode uint32) error {
	startTime := time.Now()

	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create sftp client: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer local.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &transports.TransportError{
				Op:          "upload",
				Err:         fmt.Errorf("failed to create remote directory %s: %w", dir, err),
				IsTemporary: false,
				IsAuthError: false,
			}
		}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: false,
			IsAuthError: false,
		}
	}
	defer remote.Close()

	written, err := copyWithContext(ctx, remote, local)
	if err != nil {
		return &transports.TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("transfer failed after %d bytes: %w", written, err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}

	if mode != 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			return &transports.TransportError{
				Op:          "upload",
				Err:         fmt.Errorf("failed to set mode on %s: %w", remotePath, err),
				IsTemporary: false,
				IsAuthError: false,
			}
		}
	}

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// copyWithContext copies in chunks, checking for cancellation between reads.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
