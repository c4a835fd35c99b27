package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"atlasauth/pkg/logging"
)

const (
	// StateFileName is the YAML document holding every key.
	StateFileName = "state.yaml"

	// DefaultDebounceInterval coalesces bursts of file events into one reload.
	DefaultDebounceInterval = 500 * time.Millisecond
)

// FileStore keeps all keys in a single YAML document. Every operation reads
// the file, so a second process writing the same file is observed on the
// next call; Watch reports such writes as they happen.
type FileStore struct {
	mu  sync.RWMutex
	dir string

	// stamp of our own last write, used to ignore the events it causes
	lastWrite fileStamp
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// NewFileStore creates a store writing <dir>/state.yaml.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, StateFileName)
}

func (s *FileStore) loadLocked() (map[string]yaml.Node, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]yaml.Node{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	doc := map[string]yaml.Node{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return doc, nil
}

func (s *FileStore) saveLocked(doc map[string]yaml.Node) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial document.
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	if info, err := os.Stat(s.Path()); err == nil {
		s.lastWrite = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}
	return nil
}

func (s *FileStore) Get(key string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.loadLocked()
	if err != nil {
		return false, err
	}
	node, ok := doc[key]
	if !ok {
		return false, nil
	}
	if err := node.Decode(out); err != nil {
		return true, fmt.Errorf("failed to decode value for %q: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) Set(key string, value any) error {
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	doc[key] = node
	return s.saveLocked(doc)
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.saveLocked(doc)
}

func (s *FileStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range doc {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Close() error { return nil }

// Watch calls onChange whenever another writer modifies the state file,
// until ctx is done. Writes made through this store are not reported.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	logging.Debug("KVStore", "Watching %s for external changes", s.Path())

	go func() {
		defer watcher.Close()

		var (
			debounceMu sync.Mutex
			debounce   *time.Timer
		)
		defer func() {
			debounceMu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounceMu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != StateFileName {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}

				debounceMu.Lock()
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(DefaultDebounceInterval, func() {
					if ctx.Err() != nil || s.isOwnWrite() {
						return
					}
					logging.Debug("KVStore", "State file changed externally: %s", s.Path())
					onChange()
				})
				debounceMu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("KVStore", err, "fsnotify error")
			}
		}
	}()

	return nil
}

func (s *FileStore) isOwnWrite() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(s.Path())
	if err != nil {
		return false
	}
	return info.ModTime().Equal(s.lastWrite.modTime) && info.Size() == s.lastWrite.size
}
