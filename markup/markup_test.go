package markup

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text passes through",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "break runs collapse to two newlines",
			input: "a<br/><br/><br/><br/>b",
			want:  "a\n\nb",
		},
		{
			name:  "single break becomes newline",
			input: "a<br/>b",
			want:  "a\nb",
		},
		{
			name:  "escaped newline collapses",
			input: `a\nb`,
			want:  "a\nb",
		},
		{
			name:  "inline markup",
			input: "<i>it</i> <b>bold</b> <u>under</u> <s>strike</s>",
			want:  "*it* **bold** __under__ ~~strike~~",
		},
		{
			name:  "list items become bullets",
			input: `<ul class="bb_ul"><li>one</li><li>two</li></ul>`,
			want:  "* one* two",
		},
		{
			name:  "bullet glyphs become asterisks",
			input: "⦿ first • second",
			want:  "* first * second",
		},
		{
			name:  "link redirector is unwrapped",
			input: `<a href="https://steamcommunity.com/linkfilter/?url=https://example.com" target="_blank" rel="noreferrer" class="bb_link">Example</a>`,
			want:  "[Example](https://example.com)",
		},
		{
			name:  "anchor becomes markdown link",
			input: `see <a href="https://example.com/mod">the mod</a> here`,
			want:  "see [the mod](https://example.com/mod) here",
		},
		{
			name:  "header becomes quote line",
			input: `<div class="bb_h1">Features</div>`,
			want:  "> Features\n",
		},
		{
			name:  "quote with author attribution",
			input: `<div class="bb_quoteauthor">Originally posted by someone</div><blockquote class="bb_blockquote with_author">the quote</blockquote>`,
			want:  "[Originally posted by someone]\n>>> the quote",
		},
		{
			name:  "quote without attribution",
			input: `<blockquote class="bb_blockquote">the quote</blockquote>`,
			want:  "> the quote",
		},
		{
			name:  "entities decode",
			input: "Tom &amp; Jerry &lt;3 &gt;:)",
			want:  "Tom & Jerry <3 >:)",
		},
		{
			name:  "bare image becomes its source url",
			input: `<img src="https://example.com/pic.png">`,
			want:  "https://example.com/pic.png",
		},
		{
			name:  "external link host span is dropped",
			input: `link<span class="bb_link_host">[example.com]</span>`,
			want:  "link",
		},
		{
			name:  "auto-generated trailer is stripped",
			input: "Changed things. [Auto-generated text]: update for version 1.5.",
			want:  "Changed things. ",
		},
		{
			name:  "leftover closing divs and fragments",
			input: "text</div></di",
			want:  "text",
		},
		{
			name:  "branding banner becomes description fence",
			input: `before <img src="https://i.imgur.com/pufA0kM.png">mod of mine<img src="https://i.imgur.com/Z4GOv8H.png"> after`,
			want:  "before ```\nOriginal Description\n``` after",
		},
		{
			name:  "branding footer is removed",
			input: `description<img src="https://i.imgur.com/PwoNOj4.png">everything after`,
			want:  "description",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeTruncates(t *testing.T) {
	input := strings.Repeat("a", MaxLen+500)
	got := Normalize(input)
	if n := len([]rune(got)); n != MaxLen {
		t.Errorf("Normalize() length = %d, want exactly %d", n, MaxLen)
	}
}

func TestNormalizeTruncatesMultibyte(t *testing.T) {
	input := strings.Repeat("ä", MaxLen+10)
	got := Normalize(input)
	if n := len([]rune(got)); n != MaxLen {
		t.Errorf("Normalize() rune length = %d, want %d", n, MaxLen)
	}
}

func TestNormalizeCommentEmoticons(t *testing.T) {
	input := `nice mod <img class="emoticon" src="https://community.cloudflare.steamstatic.com/economy/emoticon/steamhappy">`
	got := NormalizeComment(input)

	if !strings.Contains(got, ":smiley:") {
		t.Errorf("NormalizeComment() = %q, want it to contain :smiley:", got)
	}
	if strings.Contains(got, "https://") {
		t.Errorf("NormalizeComment() = %q, residual asset URL left behind", got)
	}
}

func TestNormalizeCommentUnknownEmoticon(t *testing.T) {
	input := `<img class="emoticon" src="https://community.cloudflare.steamstatic.com/economy/emoticon/somefutureemote">`
	got := NormalizeComment(input)

	if strings.Contains(got, "steamstatic.com") {
		t.Errorf("NormalizeComment() = %q, asset host should be stripped", got)
	}
	if !strings.Contains(got, "somefutureemote") {
		t.Errorf("NormalizeComment() = %q, want bare emoticon name kept", got)
	}
}

func TestNormalizeIsTotal(t *testing.T) {
	// Malformed markup must pass through rather than panic or error.
	inputs := []string{
		"",
		"<a href=>broken</a",
		"<img src=",
		"<blockquote",
		strings.Repeat("<br/>", 50),
	}
	for _, in := range inputs {
		_ = Normalize(in)
		_ = NormalizeComment(in)
	}
}
