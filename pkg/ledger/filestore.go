package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// FileStore keeps the snapshot in one JSON file, replaced atomically on save.
type FileStore struct {
	path       string
	maxRetries int
	retryDelay time.Duration
}

// NewFileStore creates a JSON file store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:       path,
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
	}
}

// Load reads the snapshot. A missing file is not an error.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.Info().Str("path", s.path).Msg("Usage file does not exist, starting empty")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read usage file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse usage file: %w", err)
	}
	return &snap, nil
}

// Save writes snap, retrying transient failures.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Int("attempt", attempt+1).Err(lastErr).Msg("Retrying usage file save")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
		if lastErr = s.saveAtomic(snap); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to save usage file after %d attempts: %w", s.maxRetries, lastErr)
}

func (s *FileStore) saveAtomic(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
