// Package config loads the monitor configuration from a JSON or YAML
// file. Unknown keys are rejected so a typo fails at startup instead
// of silently disabling a channel.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Defaults applied when the corresponding key is omitted.
const (
	DefaultPollInterval  = time.Minute
	DefaultSendInterval  = time.Second
	DefaultRetention     = 90 * 24 * time.Hour
	DefaultMaxPerHour    = 4
	DefaultArchiveSample = 5
	DefaultDigestTitle   = "Mod updates"
)

// Config is the top-level configuration.
type Config struct {
	Steam    SteamConfig    `json:"steam"`
	Channels ChannelsConfig `json:"channels"`
	Storage  StorageConfig  `json:"storage"`

	// CacheDir holds the delivery queue and digest files.
	CacheDir string `json:"cache_dir"`

	// Durations are Go duration strings (e.g. "60s", "1m").
	PollInterval string `json:"poll_interval,omitempty"`
	SendInterval string `json:"send_interval,omitempty"`
	Retention    string `json:"retention,omitempty"`

	MaxPostsPerHour int    `json:"max_posts_per_hour,omitempty"`
	ArchiveSample   int    `json:"archive_sample,omitempty"`
	DigestTitle     string `json:"digest_title,omitempty"`

	// Sentinel marks test comments that must stay visible to the next
	// cycle. Leave empty to disable.
	Sentinel string `json:"sentinel,omitempty"`
}

// SteamConfig names what to scrape and how to authenticate.
type SteamConfig struct {
	// DisplayName is the vanity id whose notifications page is polled.
	DisplayName string `json:"display_name"`

	// SelfAuthor suppresses the account's own replies; usually the
	// profile name shown on comments.
	SelfAuthor string `json:"self_author,omitempty"`

	NewSearchURL     string `json:"new_mods_search_url"`
	UpdatedSearchURL string `json:"updated_mods_search_url"`

	// WorkshopPath limits update notifications to locally subscribed
	// mods when set.
	WorkshopPath string `json:"workshop_path,omitempty"`

	// Cookies are browser-exported Steam session cookies.
	Cookies map[string]string `json:"cookies,omitempty"`
}

// ChannelsConfig maps channel names to Discord webhook URLs.
type ChannelsConfig struct {
	NewMods     string `json:"new_mods,omitempty"`
	UpdatedMods string `json:"updated_mods,omitempty"`
	Comments    string `json:"comments,omitempty"`
	Test        string `json:"test,omitempty"`
	Log         string `json:"log,omitempty"`
}

// StorageConfig selects the dedup store backend.
type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // file, sqlite, or bucket
	Path   string `json:"path,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

// Load reads, decodes, and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	jb, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("decode config: trailing data")
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	if c.Channels.NewMods == "" && c.Channels.UpdatedMods == "" && c.Channels.Comments == "" {
		return fmt.Errorf("at least one delivery channel is required")
	}
	for key, value := range map[string]string{
		"poll_interval": c.PollInterval,
		"send_interval": c.SendInterval,
		"retention":     c.Retention,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// PollEvery returns the poll interval, defaulted.
func (c *Config) PollEvery() time.Duration {
	return duration(c.PollInterval, DefaultPollInterval)
}

// SendEvery returns the spacing between webhook posts, defaulted.
func (c *Config) SendEvery() time.Duration {
	return duration(c.SendInterval, DefaultSendInterval)
}

// RetentionFor returns how long dedup markers are kept, defaulted.
func (c *Config) RetentionFor() time.Duration {
	return duration(c.Retention, DefaultRetention)
}

// MaxPerHour returns the hourly post cap, defaulted.
func (c *Config) MaxPerHour() int {
	if c.MaxPostsPerHour <= 0 {
		return DefaultMaxPerHour
	}
	return c.MaxPostsPerHour
}

// Sample returns how many recent notifications a test run replays.
func (c *Config) Sample() int {
	if c.ArchiveSample <= 0 {
		return DefaultArchiveSample
	}
	return c.ArchiveSample
}

// Title returns the digest embed title, defaulted.
func (c *Config) Title() string {
	if c.DigestTitle == "" {
		return DefaultDigestTitle
	}
	return c.DigestTitle
}

// WebhookMap flattens the channel config for the webhook client,
// omitting unset channels.
func (c *Config) WebhookMap() map[string]string {
	m := map[string]string{}
	for name, url := range map[string]string{
		"new":      c.Channels.NewMods,
		"updated":  c.Channels.UpdatedMods,
		"comments": c.Channels.Comments,
		"test":     c.Channels.Test,
		"log":      c.Channels.Log,
	} {
		if url != "" {
			m[name] = url
		}
	}
	return m
}

func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
