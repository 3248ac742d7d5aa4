package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"PromoScanner/internal/ports"
)

// FileStore keeps per-source watermarks in a single JSON file mapping
// source id to last processed item id. The whole map is rewritten on every
// Set via temp file + rename, keeping the file readable at any point.
type FileStore struct {
	path string

	mu         sync.Mutex
	watermarks map[string]int64
}

var _ ports.CursorStore = (*FileStore)(nil)

// OpenFileStore loads the state file at path. A missing file starts empty;
// a malformed one is a fatal error, because resetting silently would
// reprocess every source from the beginning.
func OpenFileStore(path string) (*FileStore, error) {
	store := &FileStore{path: path, watermarks: map[string]int64{}}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read cursor file %s: %v", ports.ErrFatal, path, err)
	}
	if len(raw) == 0 {
		return store, nil
	}

	if err := json.Unmarshal(raw, &store.watermarks); err != nil {
		return nil, fmt.Errorf("%w: cursor file %s is malformed: %v", ports.ErrFatal, path, err)
	}
	return store, nil
}

// Get returns the watermark for a source, ok=false when none exists.
func (s *FileStore) Get(_ context.Context, sourceID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	itemID, ok := s.watermarks[sourceID]
	return itemID, ok, nil
}

// Set advances the watermark and persists the whole map before returning.
// Values at or below the stored watermark are ignored.
func (s *FileStore) Set(_ context.Context, sourceID string, itemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.watermarks[sourceID]; ok && itemID <= current {
		return nil
	}
	s.watermarks[sourceID] = itemID

	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.watermarks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cursor-*")
	if err != nil {
		return fmt.Errorf("create cursor temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cursor temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync cursor temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cursor temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cursor file: %w", err)
	}
	return nil
}
