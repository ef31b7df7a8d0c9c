// Package filesystem implements the storage.Transport interface by writing payloads
// under a local directory that is served back over HTTP.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/treonstudio/chatuploads/internal/storage"
)

// FilesystemTransport delivers payloads to a local directory.
type FilesystemTransport struct {
	baseDir    string // Base directory for all stored objects
	absBaseDir string // Absolute path of baseDir for path validation
	publicURL  string // URL prefix the stored objects are served under
}

// NewFilesystemTransport creates a transport rooted at baseDir. Object URLs are
// built as publicURL + "/files/" + key.
func NewFilesystemTransport(baseDir, publicURL string) (*FilesystemTransport, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, storage.NewTransportError("NewFilesystemTransport", baseDir, err)
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, storage.NewTransportError("NewFilesystemTransport", baseDir, err)
	}

	return &FilesystemTransport{
		baseDir:    baseDir,
		absBaseDir: absBaseDir,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Name implements storage.Transport.
func (fs *FilesystemTransport) Name() string {
	return "filesystem"
}

// BaseDir returns the directory objects are written to.
func (fs *FilesystemTransport) BaseDir() string {
	return fs.baseDir
}

// validatePath validates that the key doesn't escape the base directory.
// Returns the safe full path or an error if path traversal is detected.
func (fs *FilesystemTransport) validatePath(key string) (string, error) {
	cleanKey := filepath.Clean(filepath.FromSlash(key))

	if filepath.IsAbs(cleanKey) {
		return "", fmt.Errorf("absolute paths not allowed: %s", key)
	}

	if strings.HasPrefix(cleanKey, "..") || strings.Contains(cleanKey, string(filepath.Separator)+"..") {
		return "", fmt.Errorf("path traversal not allowed: %s", key)
	}

	fullPath := filepath.Join(fs.baseDir, cleanKey)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	// Must start with baseDir + separator; the base directory itself is not an object
	if !strings.HasPrefix(absPath, fs.absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escape attempt: %s", key)
	}

	return fullPath, nil
}

// Upload writes the request body under its object key using a temp file and rename,
// so a cancelled or failed transfer never leaves a partial object behind.
func (fs *FilesystemTransport) Upload(ctx context.Context, req storage.TransferRequest, progress storage.ProgressFunc) (string, error) {
	key := storage.ObjectKey(req)

	filePath, err := fs.validatePath(key)
	if err != nil {
		return "", &storage.TransportError{Op: "Upload", Key: key, Err: err, Message: "path validation failed"}
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", storage.NewTransportError("Upload", key, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*.tmp")
	if err != nil {
		return "", storage.NewTransportError("Upload", key, err)
	}
	tempPath := tempFile.Name()

	var succeeded bool
	defer func() {
		tempFile.Close()
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	body := storage.NewProgressReader(ctx, req.Body, req.Size, progress)
	written, err := io.Copy(tempFile, body)
	if err != nil {
		if errors.Is(err, storage.ErrTransferAborted) || ctx.Err() != nil {
			return "", storage.ErrTransferAborted
		}
		return "", storage.NewTransportError("Upload", key, err)
	}

	if req.Size > 0 && written != req.Size {
		return "", &storage.TransportError{Op: "Upload", Key: key,
			Message: fmt.Sprintf("size mismatch: expected %d bytes, wrote %d bytes", req.Size, written)}
	}

	if err := tempFile.Close(); err != nil {
		return "", storage.NewTransportError("Upload", key, err)
	}

	// Last chance to honour a cancel before the object becomes visible
	if ctx.Err() != nil {
		return "", storage.ErrTransferAborted
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		return "", storage.NewTransportError("Upload", key, err)
	}

	succeeded = true
	slog.Debug("object stored",
		"key", key,
		"size", written,
		"upload_id", req.UploadID,
	)

	return fs.publicURL + "/files/" + key, nil
}

// Delete removes a stored object. Missing objects are not an error.
func (fs *FilesystemTransport) Delete(ctx context.Context, key string) error {
	filePath, err := fs.validatePath(key)
	if err != nil {
		return &storage.TransportError{Op: "Delete", Key: key, Err: err, Message: "path validation failed"}
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storage.NewTransportError("Delete", key, err)
	}

	slog.Debug("object deleted", "key", key)
	return nil
}

// HealthCheck verifies the base directory is still writable.
func (fs *FilesystemTransport) HealthCheck(ctx context.Context) error {
	f, err := os.CreateTemp(fs.baseDir, ".health-*")
	if err != nil {
		return storage.NewTransportError("HealthCheck", fs.baseDir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

var _ storage.Transport = (*FilesystemTransport)(nil)
