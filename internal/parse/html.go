package parse

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// HTML parses a page into a *goquery.Document.
type HTML struct{}

// Parse implements spider.Parser. The HTML tokenizer accepts nearly anything,
// so only an empty body is rejected.
func (HTML) Parse(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("decode html: empty document")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode html: %w", err)
	}
	return doc, nil
}
