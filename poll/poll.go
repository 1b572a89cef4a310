// Package poll drives the monitoring cycle: scrape, detect, stage,
// drain, and the housekeeping around it.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"workshop-notifier/markup"
	"workshop-notifier/pkg/notifier"
	"workshop-notifier/queue"
	"workshop-notifier/scraper"
)

// ErrAuthExpired stops the monitor: the Steam session was rejected and
// only fresh cookies fix that.
var ErrAuthExpired = errors.New("steam session expired")

// State tracks where the monitor is in its lifecycle, for logging.
type State int

const (
	StateInit State = iota
	StatePolling
	StateItemFound
	StateIdle
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePolling:
		return "polling"
	case StateItemFound:
		return "item_found"
	case StateIdle:
		return "idle"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Scraper fetches Steam pages.
type Scraper interface {
	NewMods(ctx context.Context) ([]*notifier.Item, error)
	UpdatedMods(ctx context.Context) ([]*notifier.Item, error)
	Details(ctx context.Context, item *notifier.Item) error
	Notifications(ctx context.Context) (groups []*notifier.CommentGroup, unread bool, err error)
	RecentNotifications(ctx context.Context, n int) ([]*notifier.CommentGroup, error)
}

// Detector filters scraped items down to unhandled ones.
type Detector interface {
	NewItems(ctx context.Context, scraped []*notifier.Item) ([]*notifier.Item, error)
	UpdatedItems(ctx context.Context, scraped []*notifier.Item) ([]*notifier.Item, error)
	Comments(ctx context.Context, groups []*notifier.CommentGroup) ([]*notifier.Item, int64, error)
	CommitComments(ctx context.Context, ts int64) error
	MarkHandled(ctx context.Context, item *notifier.Item) error
}

// Queue stages and drains notifications.
type Queue interface {
	Enqueue(env *queue.Envelope) error
	Drain(ctx context.Context) (int, error)
	Len() (int, error)
}

// Digest accumulates demoted notifications and flushes past hours.
type Digest interface {
	Record(at time.Time, s notifier.Summary) error
	FlushPrevious(ctx context.Context) (int, error)
}

// Sweeper prunes old dedup markers.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sender posts embeds directly, bypassing the queue. Used for the log
// channel and test-run replays.
type Sender interface {
	Send(ctx context.Context, channel string, embeds []*notifier.Embed) error
}

// Options tunes a Monitor.
type Options struct {
	// Mode selects which feeds run: "workshop", "comments", or "all".
	Mode string

	// TestMode reroutes deliveries to the test channel, skips marking,
	// and replays recent comments when nothing is unread.
	TestMode bool

	// WorkshopPath, when set, limits update notifications to mods with
	// a local subscription directory.
	WorkshopPath string

	// Sample is how many recent notifications a test run replays.
	Sample int

	// Retention bounds dedup marker age; markers older than this are
	// swept once an hour.
	Retention time.Duration

	// LogChannel enables cycle reports to the log webhook.
	LogChannel bool
}

// Monitor runs the poll cycle.
type Monitor struct {
	scraper   Scraper
	detector  Detector
	queue     Queue
	digest    Digest
	sweeper   Sweeper
	sender    Sender
	logger    *slog.Logger
	now       func() time.Time
	opts      Options
	state     State
	lastSweep time.Time
}

// New creates a monitor.
func New(s Scraper, d Detector, q Queue, dg Digest, sw Sweeper, sender Sender, opts Options, logger *slog.Logger) *Monitor {
	if opts.Mode == "" {
		opts.Mode = "all"
	}
	return &Monitor{
		scraper:  s,
		detector: d,
		queue:    q,
		digest:   dg,
		sweeper:  sw,
		sender:   sender,
		opts:     opts,
		now:      time.Now,
		state:    StateInit,
		logger:   logger,
	}
}

// Run polls until the context ends or the session expires. A test run
// performs one cycle and returns.
func (m *Monitor) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := m.Cycle(ctx); err != nil {
			if errors.Is(err, ErrAuthExpired) {
				m.setState(StateTerminated)
				m.report(ctx, "Monitor down", "No longer authorized")
				return err
			}
			m.logger.Error("Cycle failed", "error", err)
		}
		if m.opts.TestMode {
			m.report(ctx, "Test run complete", "Monitor exited")
			return nil
		}

		select {
		case <-ctx.Done():
			m.setState(StateTerminated)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one full pass: flush the previous hour's digest, scrape
// the enabled feeds, stage fresh items, drain the queue, and sweep.
func (m *Monitor) Cycle(ctx context.Context) error {
	m.setState(StatePolling)

	if _, err := m.digest.FlushPrevious(ctx); err != nil {
		m.logger.Warn("Digest flush failed", "error", err)
	}

	staged := 0
	if m.opts.Mode == "all" || m.opts.Mode == "workshop" {
		n, err := m.workshopCycle(ctx)
		if err != nil {
			return err
		}
		staged += n
	}
	if m.opts.Mode == "all" || m.opts.Mode == "comments" {
		n, err := m.commentCycle(ctx)
		if err != nil {
			return err
		}
		staged += n
	}

	if staged > 0 {
		m.setState(StateItemFound)
	} else {
		m.setState(StateIdle)
	}

	sent, err := m.queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	m.logger.Info("Cycle complete", "staged", staged, "sent", sent)

	m.maybeSweep(ctx)
	return nil
}

func (m *Monitor) workshopCycle(ctx context.Context) (int, error) {
	staged := 0

	scraped, err := m.scraper.NewMods(ctx)
	if err != nil {
		if scraper.IsAuthError(err) {
			return staged, ErrAuthExpired
		}
		m.logger.Warn("New mods scrape failed, skipping this cycle", "error", err)
	} else {
		fresh, err := m.detector.NewItems(ctx, scraped)
		if err != nil {
			return staged, fmt.Errorf("detect new mods: %w", err)
		}
		n, err := m.stageItems(ctx, fresh, "new")
		if err != nil {
			return staged, err
		}
		staged += n
	}

	scraped, err = m.scraper.UpdatedMods(ctx)
	if err != nil {
		if scraper.IsAuthError(err) {
			return staged, ErrAuthExpired
		}
		m.logger.Warn("Updated mods scrape failed, skipping this cycle", "error", err)
		return staged, nil
	}
	scraped = m.subscribedOnly(scraped)
	fresh, err := m.detector.UpdatedItems(ctx, scraped)
	if err != nil {
		return staged, fmt.Errorf("detect updated mods: %w", err)
	}
	n, err := m.stageItems(ctx, fresh, "updated")
	if err != nil {
		return staged, err
	}
	return staged + n, nil
}

// stageItems renders and durably stages fresh items, marking each one
// handled only after its envelope is on disk. An update whose
// changelog has no text goes straight to the digest.
func (m *Monitor) stageItems(ctx context.Context, items []*notifier.Item, channel string) (int, error) {
	staged := 0
	for _, item := range items {
		if err := m.scraper.Details(ctx, item); err != nil {
			if scraper.IsAuthError(err) {
				return staged, ErrAuthExpired
			}
			m.logger.Warn("Details fetch failed, skipping item this cycle",
				"id", item.ID, "error", err)
			continue
		}

		embed, summary := render(item)
		if item.Category == notifier.UpdatedItem && embed.Description == "" {
			if err := m.digest.Record(m.now(), summary); err != nil {
				m.logger.Warn("Digest record failed, skipping item this cycle",
					"id", item.ID, "error", err)
				continue
			}
			m.markHandled(ctx, item)
			continue
		}

		env := &queue.Envelope{Channel: m.channel(channel), Embed: embed}
		if err := m.queue.Enqueue(env); err != nil {
			m.logger.Warn("Enqueue failed, item stays unhandled", "id", item.ID, "error", err)
			continue
		}
		m.markHandled(ctx, item)
		staged++
	}
	return staged, nil
}

func (m *Monitor) commentCycle(ctx context.Context) (int, error) {
	groups, unread, err := m.scraper.Notifications(ctx)
	if err != nil {
		if scraper.IsAuthError(err) {
			return 0, ErrAuthExpired
		}
		m.logger.Warn("Notifications scrape failed, skipping this cycle", "error", err)
		return 0, nil
	}

	if !unread {
		if m.opts.TestMode {
			return m.replayRecent(ctx)
		}
		return 0, nil
	}

	fresh, next, err := m.detector.Comments(ctx, groups)
	if err != nil {
		return 0, fmt.Errorf("detect comments: %w", err)
	}

	staged := 0
	for _, item := range fresh {
		embed, _ := render(item)
		env := &queue.Envelope{Channel: m.channel("comments"), Embed: embed}
		if err := m.queue.Enqueue(env); err != nil {
			m.logger.Warn("Enqueue failed, comment stays unhandled",
				"timestamp", item.Timestamp, "error", err)
			// The watermark must not pass an unstaged comment.
			if item.Timestamp-1 < next {
				next = item.Timestamp - 1
			}
			break
		}
		staged++
	}

	if !m.opts.TestMode {
		if err := m.detector.CommitComments(ctx, next); err != nil {
			return staged, fmt.Errorf("commit watermark: %w", err)
		}
	}
	return staged, nil
}

// replayRecent sends the newest comment of the most recent threads to
// the test channel, without touching any state.
func (m *Monitor) replayRecent(ctx context.Context) (int, error) {
	m.report(ctx, "Comment monitor", "No unread notifications, replaying recent ones")
	groups, err := m.scraper.RecentNotifications(ctx, m.opts.Sample)
	if err != nil {
		if scraper.IsAuthError(err) {
			return 0, ErrAuthExpired
		}
		return 0, fmt.Errorf("fetch recent notifications: %w", err)
	}

	sent := 0
	for _, group := range groups {
		for _, item := range group.Items {
			embed, _ := render(item)
			if err := m.sender.Send(ctx, "test", []*notifier.Embed{embed}); err != nil {
				m.logger.Warn("Replay send failed", "url", group.URL, "error", err)
				continue
			}
			sent++
		}
	}
	return sent, nil
}

// render builds the embed and digest summary for an item.
func render(item *notifier.Item) (*notifier.Embed, notifier.Summary) {
	var desc string
	switch item.Category {
	case notifier.Comment:
		desc = markup.NormalizeComment(item.Body)
	case notifier.UpdatedItem:
		desc = markup.Normalize(item.Body)
		if desc != "" {
			desc = "**Changenote**\n" + desc
		}
	default:
		desc = markup.Normalize(item.Body)
	}

	embed := &notifier.Embed{
		Title:       item.Title,
		URL:         item.URL,
		Description: desc,
	}
	if item.AuthorName != "" {
		embed.Author = &notifier.EmbedAuthor{
			Name:    item.AuthorName,
			URL:     item.AuthorURL,
			IconURL: item.AuthorImage,
		}
	}
	if item.Thumbnail != "" {
		embed.Thumbnail = &notifier.EmbedThumbnail{URL: item.Thumbnail}
	}
	summary := notifier.Summary{Title: item.Title, Author: item.AuthorName, Link: item.URL}
	return embed, summary
}

// subscribedOnly drops updates for mods without a local subscription
// directory when a workshop path is configured.
func (m *Monitor) subscribedOnly(items []*notifier.Item) []*notifier.Item {
	if m.opts.WorkshopPath == "" {
		return items
	}
	var kept []*notifier.Item
	for _, item := range items {
		about := filepath.Join(m.opts.WorkshopPath, item.ID, "About", "About.xml")
		if _, err := os.Stat(about); err != nil {
			m.logger.Debug("Not subscribed, ignoring update", "id", item.ID)
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func (m *Monitor) markHandled(ctx context.Context, item *notifier.Item) {
	if m.opts.TestMode {
		return
	}
	if err := m.detector.MarkHandled(ctx, item); err != nil {
		// Staged but unmarked: next cycle re-stages it. A duplicate
		// beats a lost notification.
		m.logger.Warn("Failed to mark item handled", "id", item.ID, "error", err)
	}
}

func (m *Monitor) maybeSweep(ctx context.Context) {
	if m.opts.Retention <= 0 || m.now().Sub(m.lastSweep) < time.Hour {
		return
	}
	m.lastSweep = m.now()
	removed, err := m.sweeper.Sweep(ctx, m.opts.Retention)
	if err != nil {
		m.logger.Warn("Marker sweep failed", "error", err)
		return
	}
	if removed > 0 {
		m.logger.Info("Swept old markers", "removed", removed)
	}
}

func (m *Monitor) channel(name string) string {
	if m.opts.TestMode {
		return "test"
	}
	return name
}

func (m *Monitor) setState(s State) {
	if s == m.state {
		return
	}
	m.logger.Debug("State transition", "from", m.state.String(), "to", s.String())
	m.state = s
}

// report posts to the log channel when enabled.
func (m *Monitor) report(ctx context.Context, title, text string) {
	if !m.opts.LogChannel {
		return
	}
	embed := &notifier.Embed{Title: title, Description: markup.Normalize(text)}
	if err := m.sender.Send(ctx, "log", []*notifier.Embed{embed}); err != nil {
		m.logger.Warn("Log channel report failed", "error", err)
	}
}
