// Package notifier contains the core domain types for the workshop
// notification service.
package notifier

// Category identifies which feed an item came from. It decides which
// dedup shape applies: new items key on their id, updated items on
// id+version, and comment streams share a single watermark timestamp.
type Category int

const (
	NewItem Category = iota
	UpdatedItem
	Comment
)

func (c Category) String() string {
	switch c {
	case NewItem:
		return "new"
	case UpdatedItem:
		return "updated"
	case Comment:
		return "comment"
	default:
		return "unknown"
	}
}

// Item is one scraped unit: a workshop submission, a workshop update, or
// a single comment. Items are created by the scraper once per cycle,
// consumed once by the change detector, and never mutated afterwards.
type Item struct {
	ID          string // stable identifier (workshop id or comment timestamp)
	Category    Category
	Timestamp   int64  // unix seconds, authoritative ordering key
	GroupStamp  int64  // Comment only: the notification group's timestamp
	Version     string // UpdatedItem only: last-modified fingerprint distinct from ID
	Title       string
	URL         string
	AuthorName  string
	AuthorURL   string
	AuthorImage string
	Thumbnail   string
	Body        string // raw markup, normalized before delivery
}

// CommentGroup is one entry from the notifications page together with
// the referenced thread's comments, oldest first.
type CommentGroup struct {
	Timestamp int64
	Title     string
	URL       string
	Items     []*Item
}

// Embed is a rendered Discord webhook embed staged for delivery. The
// JSON shape matches Discord's webhook API.
type Embed struct {
	Title       string          `json:"title,omitempty"`
	URL         string          `json:"url,omitempty"`
	Description string          `json:"description,omitempty"`
	Author      *EmbedAuthor    `json:"author,omitempty"`
	Thumbnail   *EmbedThumbnail `json:"thumbnail,omitempty"`
	Fields      []EmbedField    `json:"fields,omitempty"`
}

// EmbedAuthor is the author block shown above an embed's title.
type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedThumbnail holds the preview image shown next to an embed.
type EmbedThumbnail struct {
	URL string `json:"url"`
}

// EmbedField is a single name/value field inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Summary is the condensed (title, author, link) triple kept when an
// item is demoted to the hourly digest instead of posted directly.
type Summary struct {
	Title  string
	Author string
	Link   string
}
