package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements ArchiveStore on the local filesystem. Every archive
// gets a sidecar .meta.json so objects remain attributable without the
// metadata store.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a local archive store rooted at the configured path
func NewLocalStore(config LocalConfig) (*LocalStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.BasePath, 0750); err != nil {
		return nil, storageErr("failed to create base directory", err)
	}

	return &LocalStore{basePath: config.BasePath}, nil
}

// Put streams an archive to disk and writes its metadata sidecar
func (ls *LocalStore) Put(ctx context.Context, path string, contents io.Reader, meta ObjectMetadata) error {
	full, err := ls.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return storageErr("failed to create archive directory", err)
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return storageErr("failed to create archive file", err)
	}
	if _, err := io.Copy(file, contents); err != nil {
		file.Close()
		os.Remove(full)
		return storageErr("failed to write archive", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(full)
		return storageErr("failed to finalize archive file", err)
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return storageErr("failed to serialize archive metadata", err)
	}
	if err := os.WriteFile(full+".meta.json", metaData, 0640); err != nil {
		return storageErr("failed to write archive metadata", err)
	}

	return nil
}

// Get retrieves an archive's bytes
func (ls *LocalStore) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := ls.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, storageErr(fmt.Sprintf("archive %s not found", path), err)
	}
	if err != nil {
		return nil, storageErr("failed to read archive", err)
	}
	return data, nil
}

// Delete removes an archive and its metadata sidecar
func (ls *LocalStore) Delete(ctx context.Context, path string) error {
	full, err := ls.resolve(path)
	if err != nil {
		return err
	}

	if _, err := os.Stat(full); os.IsNotExist(err) {
		return storageErr(fmt.Sprintf("archive %s not found", path), err)
	}
	if err := os.Remove(full); err != nil {
		return storageErr("failed to delete archive", err)
	}
	// Sidecar removal is best-effort
	os.Remove(full + ".meta.json")

	return nil
}

// Exists reports whether an archive is present
func (ls *LocalStore) Exists(ctx context.Context, path string) (bool, error) {
	full, err := ls.resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("failed to stat archive", err)
	}
	return true, nil
}

// Disk returns the disk identifier
func (ls *LocalStore) Disk() string {
	return "local"
}

// HealthCheck verifies the base directory is writable
func (ls *LocalStore) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(ls.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0640); err != nil {
		return storageErr("health check failed: cannot write to base directory", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return storageErr("health check failed: cannot read from base directory", err)
	}
	os.Remove(testFile)

	return nil
}

// BasePath returns the store's root directory
func (ls *LocalStore) BasePath() string {
	return ls.basePath
}

// resolve joins a path under the base directory, rejecting traversal
func (ls *LocalStore) resolve(path string) (string, error) {
	if path == "" {
		return "", validationErr("archive path cannot be empty")
	}

	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", validationErr(fmt.Sprintf("invalid archive path %s", path))
	}
	return filepath.Join(ls.basePath, cleaned), nil
}
