// Package markdown converts the restricted markdown subset used in chat
// messages into display-ready HTML or plain terminal text.
package markdown

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// ImageMaxWidth is the display width cap for inline thumbnails, in pixels.
const ImageMaxWidth = 200

var (
	imageRegex  = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	linkRegex   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	boldRegex   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	bulletRegex = regexp.MustCompile(`(?m)^[*\-]\s+(.+)$`)
	listRegex   = regexp.MustCompile(`(<li[^>]*>.*?</li>\s*)+`)
	keycapRegex = regexp.MustCompile(`(\d)\x{FE0F}\x{20E3}`)

	brBeforeList  = regexp.MustCompile(`<br>\s*(<ul)`)
	brAfterList   = regexp.MustCompile(`(</ul>)\s*<br>`)
	brBeforeImage = regexp.MustCompile(`<br>\s*(<a class="chat-image")`)
	brAfterImage  = regexp.MustCompile(`(/></a>)\s*<br>`)
)

// Format renders message content as HTML.
//
// Rules apply in a fixed order: escaped newlines, images, links, bold,
// bullet lists, keycap numbers, line breaks, then break cleanup around block
// markup. Images must be handled before links, and lists must be wrapped
// before bare newlines turn into breaks.
func Format(text string) string {
	if text == "" {
		return ""
	}

	out := html.EscapeString(text)
	out = NormalizeNewlines(out)

	out = imageRegex.ReplaceAllStringFunc(out, func(m string) string {
		sub := imageRegex.FindStringSubmatch(m)
		src := safeURL(sub[2])
		return `<a class="chat-image" href="` + src + `" target="_blank" rel="noopener">` +
			`<img src="` + src + `" alt="` + sub[1] + `" class="max-w-full h-auto rounded-lg my-2"` +
			` style="max-width: 200px;" /></a>`
	})

	out = linkRegex.ReplaceAllStringFunc(out, func(m string) string {
		sub := linkRegex.FindStringSubmatch(m)
		return `<a href="` + safeURL(sub[2]) + `" target="_blank" rel="noopener" class="text-blue-600 hover:underline">` +
			sub[1] + `</a>`
	})

	out = boldRegex.ReplaceAllString(out, `<strong>${1}</strong>`)

	out = bulletRegex.ReplaceAllString(out, `<li class="ml-4 mb-1">• ${1}</li>`)
	out = listRegex.ReplaceAllStringFunc(out, func(m string) string {
		return `<ul class="my-2 space-y-1">` + m + `</ul>`
	})

	out = keycapRegex.ReplaceAllString(out, "<span class=\"font-bold text-pink-600\">${1}\uFE0F\u20E3</span>")

	out = newlinesToBreaks(out)

	out = brBeforeList.ReplaceAllString(out, `${1}`)
	out = brAfterList.ReplaceAllString(out, `${1}`)
	out = brBeforeImage.ReplaceAllString(out, `${1}`)
	out = brAfterImage.ReplaceAllString(out, `${1}`)

	return out
}

// NormalizeNewlines turns literal backslash-n sequences, as produced by
// doubly encoded JSON, into real newlines.
func NormalizeNewlines(text string) string {
	return strings.ReplaceAll(text, `\n`, "\n")
}

// blockStarts are the generated tags a newline may sit in front of without
// becoming a break.
var blockStarts = []string{"<ul", "</ul", "<li", `<a class="chat-image"`}

// newlinesToBreaks converts bare newlines into <br>, leaving those that
// directly precede list or image markup.
func newlinesToBreaks(s string) string {
	if !strings.Contains(s, "\n") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' {
			b.WriteByte(s[i])
			continue
		}
		if startsBlock(s[i+1:]) {
			b.WriteByte('\n')
			continue
		}
		b.WriteString("<br>")
	}
	return b.String()
}

func startsBlock(rest string) bool {
	for _, p := range blockStarts {
		if strings.HasPrefix(rest, p) {
			return true
		}
	}
	return false
}

// safeURL keeps http(s), mailto and relative URLs and neutralizes anything else.
// The input is already HTML-escaped.
func safeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(html.UnescapeString(trimmed))
	if err != nil {
		return "#"
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto":
		return trimmed
	}
	return "#"
}
