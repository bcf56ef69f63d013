package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists one on-disk copy per ContentKey for downstream page
// extraction. Keying by ContentKey rather than raw filename means two uploads
// sharing a name but not content never overwrite each other.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates the upload directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the content under its ContentKey and returns the path.
// Write-once: a key that already exists on disk is left untouched.
func (s *Store) Save(key string, content []byte) (string, error) {
	path := filepath.Join(s.dir, sanitizeKey(key))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", fmt.Errorf("write upload copy: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize upload copy: %w", err)
	}
	return path, nil
}

// sanitizeKey flattens path separators so a hostile filename cannot escape
// the upload directory.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, "\\", "_")
	return filepath.Base(key)
}
