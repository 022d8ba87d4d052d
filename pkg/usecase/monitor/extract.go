package monitor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/goerr/v2"
)

const snippetMaxRunes = 200

// ExtractSummary condenses a fetched page into a short comparable
// summary: the main heading plus the leading paragraph. The format is
// fixed because fingerprints are computed over it.
func ExtractSummary(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse page HTML")
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = "No title found"
	}

	paragraph := strings.TrimSpace(doc.Find("p").First().Text())
	if paragraph == "" {
		paragraph = "No paragraph found"
	}
	if runes := []rune(paragraph); len(runes) > snippetMaxRunes {
		paragraph = string(runes[:snippetMaxRunes])
	}

	return "Title: " + title + " - Snippet: " + paragraph + "...", nil
}
