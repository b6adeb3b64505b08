// Package htmltext extracts readable text and a title from raw HTML.
package htmltext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract parses HTML and returns the document title and the visible text of
// the body with scripts, styles, and navigation chrome removed. Whitespace is
// collapsed so downstream consumers get prose, not markup artifacts.
func Extract(html []byte) (title string, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, nav, header, footer, iframe").Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, td").Each(func(_ int, s *goquery.Selection) {
		line := collapseSpace(s.Text())
		if line == "" {
			return
		}
		b.WriteString(line)
		b.WriteByte('\n')
	})

	text = strings.TrimSpace(b.String())
	if text == "" {
		// Fall back to whatever text the root holds.
		text = collapseSpace(root.Text())
	}
	return title, text, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
