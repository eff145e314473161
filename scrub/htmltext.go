package scrub

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLText extracts the visible text of an HTML document, skipping
// <script>/<style> content, for use as supplemental search-index
// content when a message's only body part is HTML (the canonical
// Email.Content stays empty in that case, matching the archive's
// established scrubbing behavior). Grounded on html/htmlsafe.Sanitize's
// token-by-token walk of golang.org/x/net/html, simplified from
// tag-rewriting down to text extraction.
func HTMLText(content []byte) string {
	var sb strings.Builder
	skipping := false

	z := html.NewTokenizer(strings.NewReader(string(content)))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			switch t.DataAtom.String() {
			case "script", "style":
				skipping = tt == html.StartTagToken
			}
		case html.EndTagToken:
			t := z.Token()
			switch t.DataAtom.String() {
			case "script", "style":
				skipping = false
			}
		case html.TextToken:
			if !skipping {
				if text := strings.TrimSpace(string(z.Text())); text != "" {
					if sb.Len() > 0 {
						sb.WriteByte(' ')
					}
					sb.WriteString(text)
				}
			}
		}
	}
	return sb.String()
}
