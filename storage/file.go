package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// fileStore keeps one empty file per marker key plus a watermark file
// holding a decimal unix timestamp. This is the layout a human can
// inspect and repair with ls and rm.
type fileStore struct {
	logger *slog.Logger
	dir    string
	now    func() time.Time
}

func openFile(dir string, logger *slog.Logger) (*fileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage requires a path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &fileStore{dir: dir, logger: logger, now: time.Now}, nil
}

func (s *fileStore) Contains(_ context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.dir, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat marker: %w", err)
}

func (s *fileStore) Insert(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, key), os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close marker: %w", err)
	}
	return nil
}

func (s *fileStore) Watermark(_ context.Context) (int64, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, watermarkKey))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		// A corrupt watermark means re-delivery, never a wedged loop.
		s.logger.Warn("Corrupt watermark file, treating as empty", "error", err)
		return 0, nil
	}
	return ts, nil
}

func (s *fileStore) SetWatermark(_ context.Context, ts int64) error {
	// Write-then-rename so a crash mid-write leaves the old value intact.
	target := filepath.Join(s.dir, watermarkKey)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(ts, 10)), 0o600); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace watermark: %w", err)
	}
	return nil
}

func (s *fileStore) Sweep(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read storage directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == watermarkKey {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn("Failed to sweep marker", "marker", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (*fileStore) Close() error { return nil }
