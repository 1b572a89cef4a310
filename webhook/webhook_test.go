package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"workshop-notifier/pkg/notifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendPayloadShape(t *testing.T) {
	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(map[string]string{"updates": srv.URL}, testLogger())
	embed := &notifier.Embed{
		Title:       "Some Mod",
		URL:         "https://example.com/mod",
		Description: "changed things",
		Author:      &notifier.EmbedAuthor{Name: "alice", URL: "https://example.com/alice"},
		Thumbnail:   &notifier.EmbedThumbnail{URL: "https://example.com/thumb.png"},
	}

	if err := c.Send(context.Background(), "updates", []*notifier.Embed{embed}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("payload had %d embeds, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Title != "Some Mod" || e.Description != "changed things" {
		t.Errorf("embed = %+v", e)
	}
	if e.Author == nil || e.Author.Name != "alice" {
		t.Errorf("author = %+v", e.Author)
	}
	if e.Thumbnail == nil || e.Thumbnail.URL != "https://example.com/thumb.png" {
		t.Errorf("thumbnail = %+v", e.Thumbnail)
	}
}

func TestSendClientErrorFailsFast(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(map[string]string{"updates": srv.URL}, testLogger())
	err := c.Send(context.Background(), "updates", []*notifier.Embed{{Title: "x"}})
	if err == nil {
		t.Fatal("Send() succeeded on HTTP 400")
	}
	if attempts != 1 {
		t.Errorf("server saw %d attempts, want 1 (4xx must not be retried)", attempts)
	}
}

func TestSendRetriesServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(map[string]string{"updates": srv.URL}, testLogger())
	if err := c.Send(context.Background(), "updates", []*notifier.Embed{{Title: "x"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if attempts != 2 {
		t.Errorf("server saw %d attempts, want 2", attempts)
	}
}

func TestSendUnknownChannel(t *testing.T) {
	c := New(map[string]string{}, testLogger())
	if err := c.Send(context.Background(), "nope", []*notifier.Embed{{Title: "x"}}); err == nil {
		t.Error("Send() to unknown channel succeeded, want error")
	}
}

func TestMockRecords(t *testing.T) {
	m := NewMock(testLogger())
	if err := m.Send(context.Background(), "comments", []*notifier.Embed{{Title: "hi"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(m.Sent) != 1 || m.Sent[0].Channel != "comments" || m.Sent[0].Embeds[0].Title != "hi" {
		t.Errorf("Sent = %+v", m.Sent)
	}
}
