package processor

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, dt, dd"

// ExtractHTMLText returns the readable text of an HTML page, one block element
// per paragraph, so the result chunks the same way as a plain-text corpus.
func ExtractHTMLText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	return DocumentText(doc), nil
}

func DocumentText(doc *goquery.Document) string {
	StripBoilerplate(doc)
	return SelectionText(doc.Selection)
}

// StripBoilerplate removes scripts, styles and site chrome from doc.
func StripBoilerplate(doc *goquery.Document) {
	doc.Find("script, style, noscript, nav, header, footer").Remove()
}

// SelectionText joins the block elements under s into paragraphs.
func SelectionText(s *goquery.Selection) string {
	var paragraphs []string
	s.Find(blockSelector).Each(func(_ int, block *goquery.Selection) {
		// nested blocks are emitted on their own
		if block.Find(blockSelector).Length() > 0 {
			return
		}

		var text string
		if goquery.NodeName(block) == "pre" {
			text = strings.TrimSpace(block.Text())
		} else {
			text = strings.Join(strings.Fields(block.Text()), " ")
		}
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	return strings.Join(paragraphs, ParagraphSeparator)
}
