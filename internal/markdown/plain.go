package markdown

// PlainText renders message content for a plain terminal: images and links
// become text with their URL, bold markers are dropped and bullets are drawn
// with a dot.
func PlainText(text string) string {
	out := NormalizeNewlines(text)
	out = imageRegex.ReplaceAllString(out, `[image: ${1}] ${2}`)
	out = linkRegex.ReplaceAllString(out, `${1} (${2})`)
	out = boldRegex.ReplaceAllString(out, `${1}`)
	out = bulletRegex.ReplaceAllString(out, `  • ${1}`)
	return out
}
