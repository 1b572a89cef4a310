package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

const markerPrefix = "seen/"

// bucketStore keeps markers as empty objects under seen/ in a Cloud
// Storage bucket, so state survives the ephemeral disks of Cloud Run.
type bucketStore struct {
	client *gcs.Client
	logger *slog.Logger
	bucket string
}

func openBucket(ctx context.Context, bucket string, logger *slog.Logger) (*bucketStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket storage requires a bucket name")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &bucketStore{client: client, bucket: bucket, logger: logger}, nil
}

func (s *bucketStore) Contains(ctx context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	var found bool
	err := s.withRetry(ctx, "stat marker", func() error {
		_, attrsErr := s.client.Bucket(s.bucket).Object(markerPrefix + key).Attrs(ctx)
		if errors.Is(attrsErr, gcs.ErrObjectNotExist) {
			found = false
			return nil
		}
		if attrsErr != nil {
			return fmt.Errorf("stat marker: %w", attrsErr)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *bucketStore) Insert(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	return s.withRetry(ctx, "write marker", func() error {
		w := s.client.Bucket(s.bucket).Object(markerPrefix + key).NewWriter(ctx)
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("write marker: %w", closeErr)
		}
		return nil
	})
}

func (s *bucketStore) Watermark(ctx context.Context) (int64, error) {
	var data []byte
	err := s.withRetry(ctx, "read watermark", func() error {
		r, openErr := s.client.Bucket(s.bucket).Object(watermarkKey).NewReader(ctx)
		if errors.Is(openErr, gcs.ErrObjectNotExist) {
			data = nil
			return nil
		}
		if openErr != nil {
			return fmt.Errorf("open watermark reader: %w", openErr)
		}
		defer func() {
			if closeErr := r.Close(); closeErr != nil {
				s.logger.Warn("Failed to close watermark reader", "error", closeErr)
			}
		}()
		var readErr error
		data, readErr = io.ReadAll(r)
		if readErr != nil {
			return fmt.Errorf("read watermark: %w", readErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		s.logger.Warn("Corrupt watermark object, treating as empty", "error", err)
		return 0, nil
	}
	return ts, nil
}

func (s *bucketStore) SetWatermark(ctx context.Context, ts int64) error {
	return s.withRetry(ctx, "write watermark", func() error {
		w := s.client.Bucket(s.bucket).Object(watermarkKey).NewWriter(ctx)
		if _, writeErr := w.Write([]byte(strconv.FormatInt(ts, 10))); writeErr != nil {
			if closeErr := w.Close(); closeErr != nil {
				s.logger.Warn("Failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write watermark: %w", writeErr)
		}
		if closeErr := w.Close(); closeErr != nil {
			return fmt.Errorf("close watermark writer: %w", closeErr)
		}
		return nil
	})
}

func (s *bucketStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: markerPrefix})

	removed := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("iterate markers: %w", err)
		}
		if attrs.Created.After(cutoff) {
			continue
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil &&
			!errors.Is(err, gcs.ErrObjectNotExist) {
			s.logger.Warn("Failed to sweep marker", "marker", attrs.Name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *bucketStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}

func (s *bucketStore) withRetry(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s after retries: %w", op, err)
	}
	return nil
}
