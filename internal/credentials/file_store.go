package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"atlasauth/pkg/logging"
)

// DefaultSecretsDir is the default directory for stored credentials,
// relative to the user's home directory.
const DefaultSecretsDir = ".config/atlasauth/secrets"

// FileStore keeps one JSON file per key.
//
// SECURITY: files are created with 0600 permissions inside a 0700
// directory, file names are hashes of the key, and values are never logged.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

type secretFile struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileStore creates the storage directory if needed. An empty dir
// selects ~/.config/atlasauth/secrets.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultSecretsDir)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// fileName maps a key to a filesystem-safe name (first 16 bytes of SHA-256).
func (s *FileStore) fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(hash[:16])+".json")
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.fileName(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read secret file: %w", err)
	}

	var f secretFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", false, fmt.Errorf("failed to parse secret file: %w", err)
	}
	return f.Value, true, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(secretFile{Key: key, Value: value, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal secret: %w", err)
	}

	path := s.fileName(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		logging.Audit("Credentials", "secret_store_failed", slog.String("key", key), slog.String("error", err.Error()))
		return fmt.Errorf("failed to write secret file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace secret file: %w", err)
	}

	logging.Audit("Credentials", "secret_stored", slog.String("key", key))
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.fileName(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		logging.Audit("Credentials", "secret_delete_failed", slog.String("key", key), slog.String("error", err.Error()))
		return false, fmt.Errorf("failed to delete secret file: %w", err)
	}

	logging.Audit("Credentials", "secret_deleted", slog.String("key", key))
	return true, nil
}
