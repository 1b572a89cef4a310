// Package storage persists the dedup state: one marker per handled
// item and a single comment watermark timestamp.
//
// Three backends share the Store interface. The file backend keeps one
// empty marker file per key, the sqlite backend keeps a seen table, and
// the bucket backend keeps marker objects in Cloud Storage. All three
// treat missing state as empty so a fresh deployment starts clean.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store records which items have been handled and where the comment
// stream has been consumed up to. Insert is idempotent and Contains
// must observe every prior successful Insert, including across
// process restarts.
type Store interface {
	// Contains reports whether key was previously inserted.
	Contains(ctx context.Context, key string) (bool, error)

	// Insert marks key as handled. Inserting an existing key is a no-op.
	Insert(ctx context.Context, key string) error

	// Watermark returns the newest handled comment timestamp, or 0 when
	// no comment has ever been handled.
	Watermark(ctx context.Context) (int64, error)

	// SetWatermark advances the watermark. Callers never move it backwards.
	SetWatermark(ctx context.Context, ts int64) error

	// Sweep removes markers older than olderThan and returns how many
	// were removed. The watermark is never swept.
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// Open dispatches on driver: "file" (the default), "sqlite", or
// "bucket". Path names the marker directory or database file; bucket
// names the Cloud Storage bucket and is only read by the bucket driver.
func Open(ctx context.Context, driver, path, bucket string, logger *slog.Logger) (Store, error) {
	switch driver {
	case "", "file":
		return openFile(path, logger)
	case "sqlite":
		return openSQLite(ctx, path, logger)
	case "bucket":
		return openBucket(ctx, bucket, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

const watermarkKey = "watermark"

// validKey guards against path traversal: keys become filenames in the
// file backend and object names in the bucket backend.
func validKey(key string) error {
	if key == "" || key == watermarkKey {
		return errors.New("invalid marker key")
	}
	for _, c := range key {
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_'
		if !ok {
			return fmt.Errorf("invalid marker key %q", key)
		}
	}
	return nil
}
