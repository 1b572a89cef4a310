package queue

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

type sentPost struct {
	channel string
	title   string
}

type fakeSender struct {
	posts []sentPost
	fail  bool
}

func (f *fakeSender) Send(_ context.Context, channel string, embeds []*notifier.Embed) error {
	if f.fail {
		return errors.New("webhook unavailable")
	}
	for _, e := range embeds {
		f.posts = append(f.posts, sentPost{channel: channel, title: e.Title})
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, dir string, sender Sender, maxPerHour int) *Queue {
	t.Helper()
	q, err := New(dir, sender, 0, maxPerHour, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.now = func() time.Time { return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC) }
	return q
}

// stage enqueues an envelope and pins its file mtime so drain order is
// deterministic in tests.
func stage(t *testing.T, q *Queue, env *Envelope, mod time.Time) {
	t.Helper()
	before := map[string]bool{}
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		before[e.Name()] = true
	}

	if err := q.Enqueue(env); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries, err = os.ReadDir(q.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if before[e.Name()] || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Chtimes(filepath.Join(q.dir, e.Name()), mod, mod); err != nil {
			t.Fatal(err)
		}
		return
	}
	t.Fatal("staged file not found")
}

func env(channel, title string) *Envelope {
	return &Envelope{
		Channel: channel,
		Embed:   &notifier.Embed{Title: title, URL: "https://example.com/" + title},
	}
}

func TestDrainIsFIFO(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, t.TempDir(), sender, 0)

	base := time.Now().Add(-time.Hour)
	stage(t, q, env("updates", "third"), base.Add(3*time.Second))
	stage(t, q, env("updates", "first"), base.Add(1*time.Second))
	stage(t, q, env("updates", "second"), base.Add(2*time.Second))

	sent, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sent != 3 {
		t.Fatalf("Drain() sent %d, want 3", sent)
	}
	want := []string{"first", "second", "third"}
	for i, w := range want {
		if sender.posts[i].title != w {
			t.Errorf("post %d = %q, want %q", i, sender.posts[i].title, w)
		}
	}

	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Errorf("Len() = %d after full drain, want 0", n)
	}
}

func TestDrainHonorsHourlyCap(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, t.TempDir(), sender, 2)

	base := time.Now().Add(-time.Hour)
	for i, title := range []string{"a", "b", "c", "d", "e"} {
		stage(t, q, env("updates", title), base.Add(time.Duration(i)*time.Second))
	}

	sent, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	// The cap check runs before the counter update, so a cap of 2
	// lets one extra post through before the drain stops.
	if sent != 3 {
		t.Errorf("Drain() sent %d, want 3", sent)
	}
	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 2 {
		t.Fatalf("Len() = %d, want 2 (overflow stays staged)", n)
	}

	// The same hour again: still capped, nothing moves.
	sent, err = q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sent != 0 {
		t.Errorf("Drain() in the same hour sent %d, want 0", sent)
	}

	// The next hour: the counter resets and the overflow drains FIFO.
	q.now = func() time.Time { return time.Date(2026, 3, 14, 11, 5, 0, 0, time.UTC) }
	sent, err = q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sent != 2 {
		t.Errorf("Drain() next hour sent %d, want 2", sent)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(sender.posts) != len(want) {
		t.Fatalf("sent %d posts total, want %d", len(sender.posts), len(want))
	}
	for i, w := range want {
		if sender.posts[i].title != w {
			t.Errorf("post %d = %q, want %q", i, sender.posts[i].title, w)
		}
	}
}

func TestHourlyCounterPersists(t *testing.T) {
	dir := t.TempDir()
	sender := &fakeSender{}

	q := newTestQueue(t, dir, sender, 1)
	base := time.Now().Add(-time.Hour)
	stage(t, q, env("updates", "a"), base)
	stage(t, q, env("updates", "b"), base.Add(time.Second))
	if _, err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(sender.posts) != 2 {
		t.Fatalf("sent %d, want 2", len(sender.posts))
	}

	// A fresh queue over the same directory inherits the hour's count.
	q2 := newTestQueue(t, dir, sender, 1)
	stage(t, q2, env("updates", "c"), base.Add(2*time.Second))
	sent, err := q2.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sent != 0 {
		t.Errorf("Drain() sent %d after restart, want 0", sent)
	}
	n, err := q2.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Errorf("Len() = %d, want 1 (capped envelope stays staged)", n)
	}
}

func TestFailedSendStaysQueued(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := newTestQueue(t, t.TempDir(), sender, 0)

	stage(t, q, env("updates", "a"), time.Now().Add(-time.Minute))

	sent, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sent != 0 {
		t.Errorf("Drain() sent %d with failing sender, want 0", sent)
	}
	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("Len() = %d, want 1 (envelope retained)", n)
	}

	sender.fail = false
	sent, err = q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sent != 1 {
		t.Errorf("Drain() sent %d after recovery, want 1", sent)
	}
}

func TestCorruptEnvelopeDropped(t *testing.T) {
	dir := t.TempDir()
	sender := &fakeSender{}
	q := newTestQueue(t, dir, sender, 0)

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	sent, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if sent != 0 {
		t.Errorf("Drain() sent %d, want 0", sent)
	}
	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 0 {
		t.Errorf("Len() = %d, want 0 (corrupt file removed)", n)
	}
}

func TestStaleCountersRemoved(t *testing.T) {
	dir := t.TempDir()
	q := newTestQueue(t, dir, &fakeSender{}, 2)

	stale := filepath.Join(dir, counterPrefix+"2026031409")
	if err := os.WriteFile(stale, []byte("5"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale counter file survived the drain")
	}
}
