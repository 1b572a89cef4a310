// Command workshop-notifier watches a Steam workshop and the account's
// comment notifications, posting anything new to Discord webhooks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"workshop-notifier/config"
	"workshop-notifier/detect"
	"workshop-notifier/digest"
	"workshop-notifier/pkg/notifier"
	"workshop-notifier/poll"
	"workshop-notifier/queue"
	"workshop-notifier/scraper"
	"workshop-notifier/session"
	"workshop-notifier/storage"
	"workshop-notifier/webhook"
)

// deliverer is what both the queue and the monitor post through.
type deliverer interface {
	Send(ctx context.Context, channel string, embeds []*notifier.Embed) error
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file (JSON or YAML)")
	mode := flag.String("mode", "all", "feeds to monitor: workshop, comments, or all")
	testMode := flag.Bool("test", false, "run one cycle against the test channel without recording state")
	mockSend := flag.Bool("mock", false, "log deliveries instead of posting to Discord")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(*configPath, *mode, *testMode, *mockSend, logger); err != nil {
		logger.Error("Monitor failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, mode string, testMode, mockSend bool, logger *slog.Logger) error {
	switch mode {
	case "workshop", "comments", "all":
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// The state files assume a single writer.
	killPriorInstances(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var client *http.Client
	if len(cfg.Steam.Cookies) > 0 {
		client, err = session.Client(cfg.Steam.Cookies)
		if err != nil {
			return fmt.Errorf("build session: %w", err)
		}
	} else {
		logger.Warn("No session cookies configured, comment notifications will not work")
		client = session.Anonymous()
	}

	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.Bucket, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()

	var sender deliverer
	if mockSend {
		logger.Info("Mock delivery mode enabled")
		sender = webhook.NewMock(logger)
	} else {
		sender = webhook.New(cfg.WebhookMap(), logger)
	}

	book, err := digest.New(filepath.Join(cfg.CacheDir, "digest"), "updated", cfg.Title(), sender, logger)
	if err != nil {
		return fmt.Errorf("open digest: %w", err)
	}
	q, err := queue.New(filepath.Join(cfg.CacheDir, "queue"), sender, cfg.SendEvery(), cfg.MaxPerHour(), logger)
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}

	sc := scraper.New(client, cfg.Steam.DisplayName, cfg.Steam.NewSearchURL, cfg.Steam.UpdatedSearchURL, logger)
	det := detect.New(store, sc, cfg.Steam.SelfAuthor, cfg.Sentinel, logger)

	monitor := poll.New(sc, det, q, book, store, sender, poll.Options{
		Mode:         mode,
		TestMode:     testMode,
		WorkshopPath: cfg.Steam.WorkshopPath,
		Sample:       cfg.Sample(),
		Retention:    cfg.RetentionFor(),
		LogChannel:   cfg.Channels.Log != "",
	}, logger)

	logger.Info("Monitor starting",
		"mode", mode,
		"test", testMode,
		"poll_interval", cfg.PollEvery().String(),
		"storage", cfg.Storage.Driver)

	err = monitor.Run(ctx, cfg.PollEvery())
	if errors.Is(err, context.Canceled) {
		logger.Info("Monitor stopped")
		return nil
	}
	return err
}

// killPriorInstances terminates other processes running this binary so
// two monitors never share the cache directory.
func killPriorInstances(logger *slog.Logger) {
	self, err := os.Executable()
	if err != nil {
		logger.Warn("Cannot resolve own executable path", "error", err)
		return
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}

	procs, err := process.Processes()
	if err != nil {
		logger.Warn("Cannot list processes", "error", err)
		return
	}

	for _, p := range procs {
		if int(p.Pid) == os.Getpid() {
			continue
		}
		exe, err := p.Exe()
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		if exe != self {
			continue
		}

		logger.Warn("Terminating prior instance", "pid", p.Pid)
		if err := p.Terminate(); err != nil {
			logger.Warn("Terminate failed, killing", "pid", p.Pid, "error", err)
			if err := p.Kill(); err != nil {
				logger.Warn("Kill failed", "pid", p.Pid, "error", err)
				continue
			}
		}
		// Give it a moment to release the state files.
		time.Sleep(500 * time.Millisecond)
	}
}
