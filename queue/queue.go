// Package queue stages rendered notifications on disk and drains them
// at a capped rate.
//
// Each staged notification is one JSON file named by a fresh UUID;
// drain order is file modification time, so delivery is FIFO. An
// hourly counter file caps how many posts leave per hour; anything
// over the cap stays staged and drains in a later hour. Staged files
// survive restarts, which is what makes marking an item handled
// before it is actually posted safe.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"workshop-notifier/pkg/notifier"
)

const counterPrefix = "sent-"

// Envelope is one staged notification: the channel it targets and the
// rendered embed.
type Envelope struct {
	Channel string          `json:"channel"`
	Embed   *notifier.Embed `json:"embed"`
}

// Sender posts embeds to a named channel.
type Sender interface {
	Send(ctx context.Context, channel string, embeds []*notifier.Embed) error
}

// Queue drains staged envelopes through a Sender.
type Queue struct {
	sender     Sender
	logger     *slog.Logger
	limiter    *rate.Limiter
	now        func() time.Time
	dir        string
	maxPerHour int
}

// New creates a queue rooted at dir. sendEvery spaces out consecutive
// posts; zero disables pacing. maxPerHour caps posts per wall-clock
// hour.
func New(dir string, sender Sender, sendEvery time.Duration, maxPerHour int, logger *slog.Logger) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	limit := rate.Inf
	if sendEvery > 0 {
		limit = rate.Every(sendEvery)
	}
	return &Queue{
		dir:        dir,
		sender:     sender,
		limiter:    rate.NewLimiter(limit, 1),
		maxPerHour: maxPerHour,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Enqueue stages an envelope durably. Once Enqueue returns nil the
// notification will eventually be posted.
func (q *Queue) Enqueue(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	name := filepath.Join(q.dir, uuid.NewString()+".json")
	if err := os.WriteFile(name, data, 0o600); err != nil {
		return fmt.Errorf("stage envelope: %w", err)
	}
	return nil
}

// Len reports how many envelopes are staged.
func (q *Queue) Len() (int, error) {
	files, err := q.pending()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// Drain posts staged envelopes oldest first and returns how many were
// sent. Envelopes over the hourly cap stay staged for a later hour. A
// failed send leaves its file in place for the next drain.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	files, err := q.pending()
	if err != nil {
		return 0, err
	}
	hour := q.hourKey()
	q.dropStaleCounters(hour)

	sent := 0
	for i, path := range files {
		if q.maxPerHour > 0 && q.counter(hour) > q.maxPerHour {
			q.logger.Info("Hourly cap reached, remaining envelopes stay staged",
				"staged", len(files)-i)
			break
		}

		data, err := os.ReadFile(path)
		if err != nil {
			q.logger.Warn("Failed to read staged envelope", "path", path, "error", err)
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// A corrupt file would wedge the queue forever; drop it.
			q.logger.Warn("Dropping corrupt staged envelope", "path", path, "error", err)
			q.remove(path)
			continue
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return sent, fmt.Errorf("wait for send slot: %w", err)
		}
		if err := q.sender.Send(ctx, env.Channel, []*notifier.Embed{env.Embed}); err != nil {
			q.logger.Warn("Failed to post staged envelope, will retry next drain",
				"channel", env.Channel, "error", err)
			continue
		}
		q.bump(hour)
		q.remove(path)
		sent++
	}
	return sent, nil
}

// pending returns staged envelope paths oldest first.
func (q *Queue) pending() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("read queue directory: %w", err)
	}

	type staged struct {
		path string
		mod  time.Time
	}
	var files []staged
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, staged{path: filepath.Join(q.dir, entry.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func (q *Queue) hourKey() string {
	return q.now().Format("2006010215")
}

// counter returns how many posts have left during the given hour. A
// missing or unreadable counter reads as zero.
func (q *Queue) counter(hour string) int {
	data, err := os.ReadFile(filepath.Join(q.dir, counterPrefix+hour))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) bump(hour string) {
	n := q.counter(hour) + 1
	path := filepath.Join(q.dir, counterPrefix+hour)
	if err := os.WriteFile(path, []byte(strconv.Itoa(n)), 0o600); err != nil {
		q.logger.Warn("Failed to update hourly counter", "error", err)
	}
}

// dropStaleCounters removes counter files from earlier hours.
func (q *Queue) dropStaleCounters(hour string) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, counterPrefix) || name == counterPrefix+hour {
			continue
		}
		if err := os.Remove(filepath.Join(q.dir, name)); err != nil {
			q.logger.Warn("Failed to remove stale counter", "counter", name, "error", err)
		}
	}
}

func (q *Queue) remove(path string) {
	if err := os.Remove(path); err != nil {
		q.logger.Warn("Failed to remove staged envelope", "path", path, "error", err)
	}
}
