package board

import (
	"strings"

	"golang.org/x/net/html"
)

// titleLength is how many characters of the opening post body are used when
// the thread has no explicit subject.
const titleLength = 60

// deriveTitle returns a human-readable title for a thread. The opening
// post's subject wins; otherwise the body is stripped of markup, whitespace
// is collapsed, and the first 60 characters are used. Empty when neither
// yields text.
func deriveTitle(posts []Post) string {
	if len(posts) == 0 {
		return ""
	}

	op := posts[0]
	if op.Sub != "" {
		return op.Sub
	}
	if op.Com == "" {
		return ""
	}

	text := collapseWhitespace(stripMarkup(op.Com))
	if text == "" {
		return ""
	}

	runes := []rune(text)
	if len(runes) > titleLength {
		text = strings.TrimSpace(string(runes[:titleLength]))
	}
	return text
}

// stripMarkup removes HTML tags from a post body, keeping text content.
// Line-break tags become spaces so adjacent lines don't run together.
func stripMarkup(s string) string {
	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(tokenizer.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "br" {
				b.WriteByte(' ')
			}
		}
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
