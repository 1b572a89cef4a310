package digest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workshop-notifier/pkg/notifier"
)

type fakeSender struct {
	sent []*notifier.Embed
	fail bool
}

func (f *fakeSender) Send(_ context.Context, _ string, embeds []*notifier.Embed) error {
	if f.fail {
		return errors.New("webhook unavailable")
	}
	f.sent = append(f.sent, embeds...)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBook(t *testing.T, sender *fakeSender) *Book {
	t.Helper()
	b, err := New(t.TempDir(), "updates", "Mod updates this hour", sender, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestFlushWaitsForHourToPass(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	b := newTestBook(t, sender)

	at := time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)
	b.now = func() time.Time { return at }

	if err := b.Record(at, notifier.Summary{Title: "mod a", Author: "alice", Link: "https://example.com/a"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := b.Record(at.Add(10*time.Minute), notifier.Summary{Title: "mod b", Author: "bob", Link: "https://example.com/b"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Still inside the hour: nothing flushes.
	flushed, err := b.FlushPrevious(ctx)
	if err != nil {
		t.Fatalf("FlushPrevious: %v", err)
	}
	if flushed != 0 {
		t.Errorf("FlushPrevious() = %d inside the hour, want 0", flushed)
	}

	// Next hour: one digest goes out.
	b.now = func() time.Time { return at.Add(time.Hour) }
	flushed, err = b.FlushPrevious(ctx)
	if err != nil {
		t.Fatalf("FlushPrevious: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("FlushPrevious() = %d, want 1", flushed)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sender received %d embeds, want 1", len(sender.sent))
	}

	embed := sender.sent[0]
	if embed.Title != "Mod updates this hour" {
		t.Errorf("embed title = %q", embed.Title)
	}
	if len(embed.Fields) != 1 {
		t.Fatalf("embed fields = %+v, want exactly one", embed.Fields)
	}
	field := embed.Fields[0]
	if field.Name != "2 mods" {
		t.Errorf("field name = %q, want \"2 mods\"", field.Name)
	}
	if !strings.Contains(field.Value, "[mod a](https://example.com/a) alice") {
		t.Errorf("field value missing first entry: %q", field.Value)
	}
	if !strings.Contains(field.Value, "[mod b](https://example.com/b) bob") {
		t.Errorf("field value missing second entry: %q", field.Value)
	}

	// Flushed file is gone: a second flush is a no-op.
	flushed, err = b.FlushPrevious(ctx)
	if err != nil {
		t.Fatalf("FlushPrevious: %v", err)
	}
	if flushed != 0 {
		t.Errorf("repeat FlushPrevious() = %d, want 0", flushed)
	}
}

func TestFlushSkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	b := newTestBook(t, sender)

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at.Add(time.Hour) }

	path := filepath.Join(b.dir, filePrefix+at.Format("2006010215"))
	content := "mod a|alice|https://example.com/a\ngarbage without delimiters\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	flushed, err := b.FlushPrevious(ctx)
	if err != nil {
		t.Fatalf("FlushPrevious: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("FlushPrevious() = %d, want 1", flushed)
	}
	if got := sender.sent[0].Fields[0].Name; got != "1 mods" {
		t.Errorf("field name = %q, want \"1 mods\" (malformed line skipped)", got)
	}
}

func TestFlushRetriesAfterSendFailure(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{fail: true}
	b := newTestBook(t, sender)

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at }
	if err := b.Record(at, notifier.Summary{Title: "mod a", Author: "alice", Link: "https://example.com/a"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	b.now = func() time.Time { return at.Add(time.Hour) }
	flushed, err := b.FlushPrevious(ctx)
	if err != nil {
		t.Fatalf("FlushPrevious: %v", err)
	}
	if flushed != 0 {
		t.Errorf("FlushPrevious() = %d with failing sender, want 0", flushed)
	}

	sender.fail = false
	flushed, err = b.FlushPrevious(ctx)
	if err != nil {
		t.Fatalf("FlushPrevious: %v", err)
	}
	if flushed != 1 {
		t.Errorf("FlushPrevious() = %d after recovery, want 1", flushed)
	}
}

func TestRecordSanitizesDelimiter(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	b := newTestBook(t, sender)

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := b.Record(at, notifier.Summary{Title: "mod|with|pipes", Author: "a\nb", Link: "https://example.com/x"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	b.now = func() time.Time { return at.Add(time.Hour) }
	flushed, err := b.FlushPrevious(ctx)
	if err != nil {
		t.Fatalf("FlushPrevious: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("FlushPrevious() = %d, want 1", flushed)
	}
	if got := sender.sent[0].Fields[0].Name; got != "1 mods" {
		t.Errorf("field name = %q, want \"1 mods\" (entry stayed one line)", got)
	}
	if !strings.Contains(sender.sent[0].Fields[0].Value, "mod with pipes") {
		t.Errorf("field value = %q, want sanitized title", sender.sent[0].Fields[0].Value)
	}
}
