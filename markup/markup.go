// Package markup converts Steam's rendered BBCode HTML into
// Discord-safe markdown.
//
// Normalization is best-effort and total: malformed markup passes
// through untouched, regex non-matches are no-ops, and the result is
// hard-capped at MaxLen characters. The rules run in a fixed order
// because later rules operate on the output of earlier ones.
package markup

import (
	"regexp"
	"strings"
)

// MaxLen is the hard cap imposed by Discord's embed description limit.
const MaxLen = 4000

var (
	// Branding fragments injected into descriptions published by this
	// account: an info banner pair, a footer, and a separator image.
	infoBannerRe = regexp.MustCompile(`<img src="https://i\.imgur\.com/pufA0kM\.png">.*<img src="https://i\.imgur\.com/Z4GOv8H\.png">`)
	footerRe     = regexp.MustCompile(`<img src="https://i\.imgur\.com/PwoNOj4\.png">.*`)

	breakRunRe    = regexp.MustCompile(`(?:<br/>){3,}`)
	linkRe        = regexp.MustCompile(`<a[^>]*href="(?P<link>[^"]*)"[^>]*>(?P<text>[^<]*)</a>`)
	headerRe      = regexp.MustCompile(`<div class="bb_h.">(?P<text>.*?)</div>`)
	quoteAuthorRe = regexp.MustCompile(`<div class="bb_quoteauthor">(?P<text>.*?)</div>`)
	imageRe       = regexp.MustCompile(`<img[^>]*src="(?P<link>[^"]*)"[^>]*>`)
	linkHostRe    = regexp.MustCompile(`<span class="bb_link_host">.*?</span>`)
	autogenRe     = regexp.MustCompile(`\[Auto-generated text\].*\.`)
)

// inline replacements applied pairwise, in order.
var inline = [...][2]string{
	{"<i>", "*"}, {"</i>", "*"},
	{"<b>", "**"}, {"</b>", "**"},
	{"<u>", "__"}, {"</u>", "__"},
	{"<s>", "~~"}, {"</s>", "~~"},
}

// Normalize converts workshop description or changelog markup.
func Normalize(raw string) string {
	return normalize(raw, false)
}

// NormalizeComment converts comment-thread markup. Comments additionally
// carry emoticon images, which are substituted for Discord shortcodes.
func NormalizeComment(raw string) string {
	return normalize(raw, true)
}

func normalize(s string, emoticons bool) string {
	s = infoBannerRe.ReplaceAllString(s, "```\nOriginal Description\n```")
	s = footerRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `<img src="https://i.imgur.com/buuPQel.png">`, "")

	// Line breaks: 3+ collapse to 2, then all become newlines.
	s = breakRunRe.ReplaceAllString(s, "<br/><br/>")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")

	for _, r := range inline {
		s = strings.ReplaceAll(s, r[0], r[1])
	}

	// Lists and the two bullet glyph forms Steam renders.
	s = strings.ReplaceAll(s, "<li>", "* ")
	s = strings.ReplaceAll(s, "</li>", "")
	s = strings.ReplaceAll(s, "⦿", "*")
	s = strings.ReplaceAll(s, "•", "*")
	s = strings.ReplaceAll(s, "<ul>", "")
	s = strings.ReplaceAll(s, `<ul class="bb_ul">`, "")
	s = strings.ReplaceAll(s, "</ul>", "")

	// Unwrap the link redirector and drop presentational anchor attributes.
	s = strings.ReplaceAll(s, "https://steamcommunity.com/linkfilter/?url=", "")
	s = strings.ReplaceAll(s, `target="_blank"`, "")
	s = strings.ReplaceAll(s, `rel="noreferrer"`, "")
	s = strings.ReplaceAll(s, `class="bb_link"`, "")
	s = strings.ReplaceAll(s, "</img>", "")

	// Blockquotes: ">>> " when an author attribution follows, "> " otherwise.
	s = strings.ReplaceAll(s, `<blockquote class="bb_blockquote with_author">`, ">>> ")
	s = strings.ReplaceAll(s, `<blockquote class="bb_blockquote">`, "> ")
	s = strings.ReplaceAll(s, "</blockquote>", "")

	if emoticons {
		s = replaceEmoticons(s)
	}

	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")

	s = linkRe.ReplaceAllString(s, "[${text}](${link})")
	s = headerRe.ReplaceAllString(s, "> ${text}\n")
	s = quoteAuthorRe.ReplaceAllString(s, "[${text}]\n")
	s = imageRe.ReplaceAllString(s, "${link}")
	s = linkHostRe.ReplaceAllString(s, "")
	s = autogenRe.ReplaceAllString(s, "")

	// Leftover wrappers, including the truncated "</di" fragment Steam
	// sometimes emits at the end of a clipped description.
	s = strings.ReplaceAll(s, "</div>", "")
	s = strings.ReplaceAll(s, "</di", "")

	if r := []rune(s); len(r) > MaxLen {
		s = string(r[:MaxLen])
	}
	return s
}
