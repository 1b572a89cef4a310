package scraper

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"workshop-notifier/pkg/notifier"
)

// notificationRef is one row on the comment notifications page.
type notificationRef struct {
	link  string
	stamp int64
}

// Notifications fetches the unread comment notifications and resolves
// each referenced thread. Groups come back oldest first. The second
// return reports whether any unread notifications existed; a thread
// that fails to resolve is skipped and reconsidered next cycle.
func (s *Scraper) Notifications(ctx context.Context) ([]*notifier.CommentGroup, bool, error) {
	pageURL := fmt.Sprintf(notificationsURL, s.displayName)
	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, false, err
	}
	if strings.Contains(doc.Text(), "g_steamID = false") {
		return nil, false, &AuthError{URL: pageURL}
	}

	count := strings.TrimSpace(doc.Find("div.commentnotifications_header_commentcount").First().Text())
	if count == "" {
		return nil, false, nil
	}
	s.logger.Info("Unread comment notifications found", "count", count)

	var groups []*notifier.CommentGroup
	for _, ref := range parseNotificationRefs(doc, true, 0) {
		group, err := s.thread(ctx, ref)
		if err != nil {
			if IsAuthError(err) {
				return nil, true, err
			}
			s.logger.Warn("Failed to resolve comment thread, skipping this cycle",
				"url", ref.link, "error", err)
			continue
		}
		groups = append(groups, group)
	}
	return groups, true, nil
}

// RecentNotifications resolves the newest n notifications read or not,
// keeping only the latest comment of each thread. Used to exercise the
// pipeline when there is nothing unread.
func (s *Scraper) RecentNotifications(ctx context.Context, n int) ([]*notifier.CommentGroup, error) {
	pageURL := fmt.Sprintf(notificationsURL, s.displayName)
	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if strings.Contains(doc.Text(), "g_steamID = false") {
		return nil, &AuthError{URL: pageURL}
	}

	var groups []*notifier.CommentGroup
	for _, ref := range parseNotificationRefs(doc, false, n) {
		group, err := s.thread(ctx, ref)
		if err != nil {
			if IsAuthError(err) {
				return nil, err
			}
			s.logger.Warn("Failed to resolve comment thread, skipping",
				"url", ref.link, "error", err)
			continue
		}
		if len(group.Items) > 1 {
			group.Items = group.Items[len(group.Items)-1:]
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// thread resolves one notification into its comment group. Owner-view
// links sometimes render without the comment widget; the public
// comments page is the fallback.
func (s *Scraper) thread(ctx context.Context, ref notificationRef) (*notifier.CommentGroup, error) {
	doc, err := s.fetchDocument(ctx, ref.link)
	if err != nil {
		return nil, err
	}
	title, comments := parseThread(doc, ref.link)

	if len(comments) == 0 {
		id := ref.link[strings.LastIndex(ref.link, "=")+1:]
		doc, err = s.fetchDocument(ctx, commentsFallbackURL+id)
		if err != nil {
			return nil, err
		}
		fallbackTitle, fallbackComments := parseThread(doc, ref.link)
		if title == "" {
			title = fallbackTitle
		}
		comments = fallbackComments
	}

	for _, c := range comments {
		c.Title = title
		c.URL = ref.link
	}
	return &notifier.CommentGroup{
		Timestamp: ref.stamp,
		Title:     title,
		URL:       ref.link,
		Items:     comments,
	}, nil
}

// parseNotificationRefs extracts notification rows. Unread rows come
// back oldest first so the backlog is processed in arrival order;
// otherwise the newest limit rows are kept in page order.
func parseNotificationRefs(doc *goquery.Document, unreadOnly bool, limit int) []notificationRef {
	selector := "div.commentnotification"
	if unreadOnly {
		selector = "div.commentnotification.unread"
	}

	var refs []notificationRef
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Find("a").First().Attr("href")
		if !ok {
			return
		}
		if idx := strings.Index(href, "&"); idx >= 0 {
			href = href[:idx]
		}
		stampStr, ok := sel.Find("div.commentnotification_date span").First().Attr("data-timestamp")
		if !ok {
			return
		}
		stamp, err := strconv.ParseInt(stampStr, 10, 64)
		if err != nil {
			return
		}
		refs = append(refs, notificationRef{link: href, stamp: stamp})
	})

	if unreadOnly {
		for i, j := 0, len(refs)-1; i < j; i, j = i+1, j-1 {
			refs[i], refs[j] = refs[j], refs[i]
		}
		return refs
	}
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs
}

// parseThread extracts the thread title and its comments, oldest
// first. Discussions, screenshots, and workshop items each carry the
// title in a different place.
func parseThread(doc *goquery.Document, link string) (string, []*notifier.Item) {
	var title string
	switch {
	case strings.Contains(link, "discussion"):
		title = strings.TrimSpace(doc.Find("div.topic").First().Text())
	case doc.Find("div.screenshotApp").Length() > 0:
		title = "Screenshot comment"
	default:
		title = strings.TrimSpace(doc.Find("div.workshopItemTitle").First().Text())
	}

	var comments []*notifier.Item
	doc.Find("div.commentthread_comment").Each(func(_ int, sel *goquery.Selection) {
		stampStr, ok := sel.Find("span.commentthread_comment_timestamp").First().Attr("data-timestamp")
		if !ok {
			return
		}
		stamp, err := strconv.ParseInt(stampStr, 10, 64)
		if err != nil {
			return
		}
		// Profile names can carry a "(game nickname)" suffix.
		author := sel.Find("a.commentthread_author_link").First().Text()
		author = strings.TrimSpace(strings.SplitN(author, "(", 2)[0])
		authorURL, _ := sel.Find("a").First().Attr("href")
		avatar, _ := sel.Find("img").First().Attr("src")
		body, bodyErr := sel.Find("div.commentthread_comment_text").First().Html()
		if bodyErr != nil {
			body = ""
		}
		comments = append(comments, &notifier.Item{
			ID:          stampStr,
			Category:    notifier.Comment,
			Timestamp:   stamp,
			AuthorName:  author,
			AuthorURL:   authorURL,
			AuthorImage: avatar,
			Body:        strings.TrimSpace(body),
		})
	})

	for i, j := 0, len(comments)-1; i < j; i, j = i+1, j-1 {
		comments[i], comments[j] = comments[j], comments[i]
	}
	return title, comments
}
