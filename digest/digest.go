// Package digest accumulates notifications that were demoted by the
// hourly cap and flushes them as one summary post.
//
// Each wall-clock hour gets its own file of pipe-delimited
// title|author|link lines. A file is flushed on the first cycle after
// its hour has passed, so a digest lags its newest entry by at most
// one poll interval plus the remainder of the hour.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"workshop-notifier/pkg/notifier"
)

const (
	filePrefix = "digest-"

	// Discord caps an embed field value at 1024 characters.
	maxFieldLen = 1024
)

// Sender posts embeds to a named channel.
type Sender interface {
	Send(ctx context.Context, channel string, embeds []*notifier.Embed) error
}

// Book is the on-disk digest ledger.
type Book struct {
	sender  Sender
	logger  *slog.Logger
	now     func() time.Time
	dir     string
	channel string
	title   string
}

// New creates a digest book rooted at dir, flushing to channel with the
// given embed title.
func New(dir, channel, title string, sender Sender, logger *slog.Logger) (*Book, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create digest directory: %w", err)
	}
	return &Book{
		dir:     dir,
		channel: channel,
		title:   title,
		sender:  sender,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// Record appends a summary to the file for at's hour. The delimiter
// and newlines are stripped from fields so one entry is always one
// parseable line.
func (b *Book) Record(at time.Time, s notifier.Summary) error {
	line := strings.Join([]string{clean(s.Title), clean(s.Author), clean(s.Link)}, "|") + "\n"
	path := filepath.Join(b.dir, filePrefix+at.Format("2006010215"))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open digest file: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append digest entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close digest file: %w", err)
	}
	return nil
}

// FlushPrevious posts every digest file from a past hour and returns
// how many were flushed. The current hour's file stays open for more
// entries. A failed post leaves its file for the next flush.
func (b *Book) FlushPrevious(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("read digest directory: %w", err)
	}
	current := filePrefix + b.now().Format("2006010215")

	flushed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || name >= current {
			continue
		}
		path := filepath.Join(b.dir, name)
		embed, count, err := b.build(path)
		if err != nil {
			b.logger.Warn("Dropping unreadable digest file", "file", name, "error", err)
			_ = os.Remove(path)
			continue
		}
		if count == 0 {
			_ = os.Remove(path)
			continue
		}
		if err := b.sender.Send(ctx, b.channel, []*notifier.Embed{embed}); err != nil {
			b.logger.Warn("Failed to post digest, will retry next cycle", "file", name, "error", err)
			continue
		}
		if err := os.Remove(path); err != nil {
			b.logger.Warn("Failed to remove flushed digest file", "file", name, "error", err)
		}
		flushed++
	}
	return flushed, nil
}

// build renders one digest file into an embed, skipping malformed
// lines. Returns the entry count so empty files can be discarded.
func (b *Book) build(path string) (*notifier.Embed, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read digest file: %w", err)
	}

	var lines []string
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		if len(parts) != 3 {
			b.logger.Warn("Skipping malformed digest entry", "file", filepath.Base(path), "line", line)
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s](%s) %s", parts[0], parts[2], parts[1]))
		count++
	}
	if count == 0 {
		return nil, 0, nil
	}

	value := strings.Join(lines, "\n")
	if r := []rune(value); len(r) > maxFieldLen {
		value = string(r[:maxFieldLen])
	}
	embed := &notifier.Embed{
		Title: b.title,
		Fields: []notifier.EmbedField{
			{Name: fmt.Sprintf("%d mods", count), Value: value, Inline: true},
		},
	}
	return embed, count, nil
}

func clean(s string) string {
	s = strings.ReplaceAll(s, "|", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
