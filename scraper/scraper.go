// Package scraper fetches and parses Steam community pages: workshop
// search results, item details, changelogs, and comment threads.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

const (
	detailsURL          = "https://steamcommunity.com/sharedfiles/filedetails/?id="
	changelogURL        = "https://steamcommunity.com/sharedfiles/filedetails/changelog/"
	commentsFallbackURL = "https://steamcommunity.com/sharedfiles/filedetails/comments/"
	notificationsURL    = "https://steamcommunity.com/id/%s/commentnotifications/"
)

// AuthError indicates the Steam session is no longer valid. The
// monitor cannot recover from this without new credentials.
type AuthError struct {
	URL string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("steam session rejected: %s", e.URL)
}

// IsAuthError checks if an error indicates a rejected session.
func IsAuthError(err error) bool {
	var auth *AuthError
	return errors.As(err, &auth)
}

// Scraper fetches Steam community pages through a shared HTTP client,
// which carries the session cookies when one is configured.
type Scraper struct {
	client           *http.Client
	logger           *slog.Logger
	now              func() time.Time
	displayName      string
	newSearchURL     string
	updatedSearchURL string
}

// New creates a scraper. newSearchURL and updatedSearchURL are the
// workshop browse URLs sorted by creation and by last update;
// displayName is the vanity name whose notifications page is polled.
func New(client *http.Client, displayName, newSearchURL, updatedSearchURL string, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:           client,
		displayName:      displayName,
		newSearchURL:     newSearchURL,
		updatedSearchURL: updatedSearchURL,
		now:              time.Now,
		logger:           logger,
	}
}

func (s *Scraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Chrome-like headers keep Steam from serving the bot-check page.
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")
			req.Header.Set("Upgrade-Insecure-Requests", "1")
			req.Header.Set("Cache-Control", "max-age=0")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Debug("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusForbidden ||
				strings.Contains(resp.Request.URL.Path, "/login") {
				s.logger.Warn("Steam rejected the session", "url", pageURL)
				return &AuthError{URL: pageURL}
			}
			if resp.StatusCode != http.StatusOK {
				s.logger.Warn("HTTP request returned non-OK status, will retry",
					"url", pageURL, "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			doc, err = goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				s.logger.Error("Failed to parse HTML", "url", pageURL, "error", err)
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsAuthError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return doc, nil
}
