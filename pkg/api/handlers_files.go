package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/openconduit/openconduit/pkg/target"
	"github.com/openconduit/openconduit/pkg/transports"
	sshtransport "github.com/openconduit/openconduit/pkg/transports/ssh"
)

// uploadFile stages a multipart upload on a host over SFTP. The form carries
// the file plus remote_path, an optional octal mode, and optional target
// override fields (host, user, port, password, key_path).
func (s *Server) uploadFile(c echo.Context) error {
	remotePath := c.FormValue("remote_path")
	if remotePath == "" {
		return BadRequestError("remote_path is required", "")
	}

	var mode uint64
	if raw := c.FormValue("mode"); raw != "" {
		var err error
		mode, err = strconv.ParseUint(raw, 8, 32)
		if err != nil {
			return BadRequestError("invalid mode", raw)
		}
	}

	overrides := target.Overrides{
		Host:     c.FormValue("host"),
		User:     c.FormValue("user"),
		Password: c.FormValue("password"),
		KeyPath:  c.FormValue("key_path"),
	}
	if raw := c.FormValue("port"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return BadRequestError("invalid port", raw)
		}
		overrides.Port = port
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return BadRequestError("file is required", err.Error())
	}

	src, err := fileHeader.Open()
	if err != nil {
		return BadRequestError("failed to read upload", err.Error())
	}
	defer src.Close()

	// The SFTP client reads from a local path, so the upload is staged to a
	// temp file first.
	tmp, err := os.CreateTemp("", "conduit-upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	tgt, err := target.Resolve(target.BackendSSH, overrides, s.defaults)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	session, err := sshtransport.New().Open(ctx, tgt)
	if err != nil {
		return err
	}
	defer session.Close()

	uploader, ok := session.(transports.FileUploader)
	if !ok {
		return fmt.Errorf("transport does not support file upload")
	}

	if err := uploader.UploadFile(ctx, tmp.Name(), remotePath, uint32(mode)); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"host":        tgt.Host,
		"remote_path": remotePath,
		"size":        fileHeader.Size,
	})
}
