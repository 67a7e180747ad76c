package notes

import (
	"strings"

	"golang.org/x/net/html"
)

// Export file names offered to users.
const (
	TextFileName = "lightning-ladder-notes.txt"
	HTMLFileName = "lightning-ladder-notes.html"
)

const documentHead = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Lightning Ladder Notes</title>` +
	`<style>body{font-family:monospace;padding:24px;max-width:800px;margin:0 auto;line-height:1.6}</style></head><body>`

const documentTail = `</body></html>`

// HTMLDocument wraps the markup in a standalone page.
func HTMLDocument(markup string) string {
	return documentHead + markup + documentTail
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true,
}

// PlainText renders the markup the way a browser's innerText would, roughly:
// tags dropped, entities decoded, block boundaries and <br> as newlines.
func PlainText(markup string) string {
	var b strings.Builder
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimRight(b.String(), "\n")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch {
			case tag == "br":
				b.WriteByte('\n')
			case blockElements[tag]:
				newline()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				newline()
			}
		}
	}
}
