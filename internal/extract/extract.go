package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const blockSelector = "h1,h2,h3,h4,h5,h6,p,li,pre,blockquote"

// Extractor turns a fetched page into plain readable text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract finds the main article with readability and flattens it into one
// paragraph per line. Pages that are not articles yield "" rather than an error.
func (e *Extractor) Extract(body []byte, pageURL *url.URL) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", nil
	}

	if text := blocksText(article.Content); text != "" {
		return text, nil
	}
	return normalizeText(article.TextContent), nil
}

// blocksText walks the cleaned article HTML and keeps content-bearing blocks.
func blocksText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var lines []string
	doc.Find(blockSelector).Each(func(i int, s *goquery.Selection) {
		// nested blocks are emitted by their outermost parent
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		if text := normalizeText(s.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	return strings.Join(lines, "\n\n")
}

// normalizeText collapses runs of whitespace into single spaces.
func normalizeText(input string) string {
	return strings.Join(strings.Fields(input), " ")
}
