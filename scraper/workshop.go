package scraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"workshop-notifier/pkg/notifier"
)

// updatedCutoff is subtracted from now when querying the updated-mods
// search, so a post that lands mid-scrape is still caught next cycle.
const updatedCutoff = 10 * time.Minute

// NewMods fetches the most recently published workshop items.
func (s *Scraper) NewMods(ctx context.Context) ([]*notifier.Item, error) {
	doc, err := s.fetchDocument(ctx, s.newSearchURL)
	if err != nil {
		return nil, err
	}
	items := parseSearch(doc, notifier.NewItem)
	s.logger.Info("Workshop search scraped", "feed", "new", "items", len(items))
	return items, nil
}

// UpdatedMods fetches workshop items updated since shortly before now.
func (s *Scraper) UpdatedMods(ctx context.Context) ([]*notifier.Item, error) {
	searchURL := s.updatedSearchURL + strconv.FormatInt(s.now().Add(-updatedCutoff).Unix(), 10)
	doc, err := s.fetchDocument(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	items := parseSearch(doc, notifier.UpdatedItem)
	s.logger.Info("Workshop search scraped", "feed", "updated", "items", len(items))
	return items, nil
}

// parseSearch extracts items from a workshop browse page. The grid's
// trailing tile is a promo slot, not a result, and is skipped.
func parseSearch(doc *goquery.Document, category notifier.Category) []*notifier.Item {
	var items []*notifier.Item
	doc.Find("div.workshopItem").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Find("a.ugc").First().Attr("href")
		if !ok {
			return
		}
		link, id := splitItemLink(href)
		if id == "" {
			return
		}
		thumb, _ := sel.Find("img.workshopItemPreviewImage").First().Attr("src")
		items = append(items, &notifier.Item{
			ID:         id,
			Category:   category,
			Title:      strings.TrimSpace(sel.Find("div.workshopItemTitle").First().Text()),
			URL:        link,
			AuthorName: strings.TrimSpace(sel.Find("div.workshopItemAuthorName a").First().Text()),
			Thumbnail:  thumb,
		})
	})
	if len(items) > 0 {
		items = items[:len(items)-1]
	}
	return items
}

// splitItemLink strips the search tracking parameters and pulls the
// workshop id out of an item link.
func splitItemLink(href string) (link, id string) {
	link = href
	if idx := strings.Index(link, "&"); idx >= 0 {
		link = link[:idx]
	}
	if idx := strings.Index(link, "="); idx >= 0 {
		id = link[idx+1:]
	}
	return link, id
}

// Details fills in the item fields only visible on its own page: the
// author's profile link and avatar, and the description when the item
// has no body yet.
func (s *Scraper) Details(ctx context.Context, item *notifier.Item) error {
	doc, err := s.fetchDocument(ctx, detailsURL+item.ID)
	if err != nil {
		return err
	}
	if src, ok := doc.Find("div.playerAvatar img").First().Attr("src"); ok {
		item.AuthorImage = src
	}
	if href, ok := doc.Find("a.friendBlockLinkOverlay").First().Attr("href"); ok {
		item.AuthorURL = href
	}
	if item.Body == "" {
		html, err := doc.Find("div.workshopItemDescription").First().Html()
		if err == nil {
			item.Body = strings.TrimSpace(html)
		}
	}
	return nil
}

// Changelog fetches an item's changelog page and returns the newest
// entry's timestamp as the version fingerprint, plus its raw body.
func (s *Scraper) Changelog(ctx context.Context, id string) (string, string, error) {
	doc, err := s.fetchDocument(ctx, changelogURL+id)
	if err != nil {
		return "", "", err
	}
	return parseChangelog(doc, s.now())
}

func parseChangelog(doc *goquery.Document, now time.Time) (version, body string, err error) {
	raw := strings.TrimSpace(doc.Find("div.workshopAnnouncement div.changelog").First().Text())
	if raw == "" {
		return "", "", fmt.Errorf("no changelog headline found")
	}
	raw = strings.Replace(raw, "Update: ", "", 1)

	updated, err := parseChangelogDate(raw, now)
	if err != nil {
		return "", "", err
	}

	body, htmlErr := doc.Find("p").First().Html()
	if htmlErr != nil {
		body = ""
	}
	return strconv.FormatInt(updated.Unix(), 10), strings.TrimSpace(body), nil
}

// parseChangelogDate handles the two shapes Steam renders: the current
// year's "12 Aug @ 9:15am" and older entries' "12 Aug, 2023 @ 9:15am".
func parseChangelogDate(raw string, now time.Time) (time.Time, error) {
	parts := strings.Split(raw, "@")
	day := strings.TrimSpace(parts[0])
	clock := strings.TrimSpace(parts[len(parts)-1])
	if !strings.Contains(day, ",") {
		day = day + ", " + strconv.Itoa(now.Year())
	}
	combined := day + " " + clock

	for _, layout := range []string{"2 Jan, 2006 3:04pm", "Jan 2, 2006 3:04pm"} {
		if t, err := time.ParseInLocation(layout, combined, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized changelog date %q", raw)
}
