// Package detect decides which scraped items are genuinely new.
//
// New submissions key on their workshop id, updates on id plus the
// changelog version, and the comment stream shares a single watermark
// timestamp. Marking an item handled is split from detection so the
// caller can stage the notification durably first; a crash in between
// re-delivers rather than drops.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"workshop-notifier/pkg/notifier"
)

// Store is the slice of the dedup store the detector needs.
type Store interface {
	Contains(ctx context.Context, key string) (bool, error)
	Insert(ctx context.Context, key string) error
	Watermark(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, ts int64) error
}

// VersionResolver fetches an item's changelog so an update can be
// fingerprinted. The scraper satisfies this directly.
type VersionResolver interface {
	Changelog(ctx context.Context, id string) (version, body string, err error)
}

// Detector filters scraped items down to the unhandled ones.
type Detector struct {
	store      Store
	resolver   VersionResolver
	logger     *slog.Logger
	selfAuthor string
	sentinel   string
}

// New creates a detector. selfAuthor names the account whose own
// comments are suppressed; sentinel, when non-empty, marks comments
// that must never advance the watermark past them.
func New(store Store, resolver VersionResolver, selfAuthor, sentinel string, logger *slog.Logger) *Detector {
	return &Detector{
		store:      store,
		resolver:   resolver,
		selfAuthor: selfAuthor,
		sentinel:   sentinel,
		logger:     logger,
	}
}

// Key derives the dedup marker key for an item. Comments have no
// per-item marker; their state is the watermark.
func Key(item *notifier.Item) string {
	switch item.Category {
	case notifier.UpdatedItem:
		return "updated-" + item.ID + "-" + item.Version
	default:
		return "new-" + item.ID
	}
}

// NewItems returns the scraped submissions not yet handled, preserving
// scrape order. The account's own submissions are suppressed without
// being marked.
func (d *Detector) NewItems(ctx context.Context, scraped []*notifier.Item) ([]*notifier.Item, error) {
	var fresh []*notifier.Item
	for _, item := range scraped {
		if d.selfAuthor != "" && item.AuthorName == d.selfAuthor {
			continue
		}
		seen, err := d.store.Contains(ctx, Key(item))
		if err != nil {
			return nil, fmt.Errorf("check marker: %w", err)
		}
		if seen {
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh, nil
}

// UpdatedItems resolves each candidate's changelog version and returns
// the (id, version) pairs not yet handled. A resolution failure skips
// just that item; it is reconsidered next cycle. The account's own
// items are suppressed without being marked or resolved.
func (d *Detector) UpdatedItems(ctx context.Context, scraped []*notifier.Item) ([]*notifier.Item, error) {
	var fresh []*notifier.Item
	for _, item := range scraped {
		if d.selfAuthor != "" && item.AuthorName == d.selfAuthor {
			continue
		}
		version, body, err := d.resolver.Changelog(ctx, item.ID)
		if err != nil {
			d.logger.Warn("Failed to resolve changelog, skipping item this cycle",
				"id", item.ID, "title", item.Title, "error", err)
			continue
		}
		item.Version = version
		item.Body = body

		seen, err := d.store.Contains(ctx, Key(item))
		if err != nil {
			return nil, fmt.Errorf("check marker: %w", err)
		}
		if seen {
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh, nil
}

// Comments returns the comments newer than the watermark, oldest first,
// along with the watermark value to commit once they are staged.
//
// Comments by selfAuthor advance the watermark but are not returned.
// A comment containing the sentinel is never returned; it and every
// comment from it onward are held back, and the returned watermark
// stops just below it, so the whole tail is reconsidered once the
// flag clears. Nothing already returned sits above that watermark, so
// repeated calls over the same batch return nothing new.
func (d *Detector) Comments(ctx context.Context, groups []*notifier.CommentGroup) ([]*notifier.Item, int64, error) {
	wm, err := d.store.Watermark(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read watermark: %w", err)
	}

	// First run: seed just below the oldest unread notification. The
	// unread backlog goes out once; read history never replays.
	if wm == 0 && len(groups) > 0 {
		wm = groups[0].Timestamp - 1
		if err := d.store.SetWatermark(ctx, wm); err != nil {
			return nil, 0, fmt.Errorf("seed watermark: %w", err)
		}
		d.logger.Info("Seeded comment watermark", "watermark", wm)
	}

	// Locate the oldest flagged comment first; everything from it
	// onward is withheld this cycle.
	held := false
	var holdFrom int64
	if d.sentinel != "" {
		for _, group := range groups {
			for _, item := range group.Items {
				if item.Timestamp <= wm || !strings.Contains(item.Body, d.sentinel) {
					continue
				}
				if !held || item.Timestamp < holdFrom {
					holdFrom = item.Timestamp
					held = true
				}
			}
		}
	}

	next := wm
	var fresh []*notifier.Item
	for _, group := range groups {
		for _, item := range group.Items {
			if item.Timestamp <= wm {
				continue
			}
			if held && item.Timestamp >= holdFrom {
				continue
			}
			if item.Timestamp > next {
				next = item.Timestamp
			}
			if d.selfAuthor != "" && item.AuthorName == d.selfAuthor {
				continue
			}
			item.GroupStamp = group.Timestamp
			fresh = append(fresh, item)
		}
	}

	if held {
		next = holdFrom - 1
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })
	return fresh, next, nil
}

// CommitComments advances the watermark. It never moves backwards, so
// a stale commit after a pin is harmless.
func (d *Detector) CommitComments(ctx context.Context, ts int64) error {
	current, err := d.store.Watermark(ctx)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	if ts <= current {
		return nil
	}
	if err := d.store.SetWatermark(ctx, ts); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// MarkHandled records an item's marker. Call only after its
// notification has been durably staged.
func (d *Detector) MarkHandled(ctx context.Context, item *notifier.Item) error {
	if item.Category == notifier.Comment {
		return nil
	}
	if err := d.store.Insert(ctx, Key(item)); err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}
