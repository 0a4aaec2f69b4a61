package parse

import (
	"bytes"
	"fmt"

	"github.com/antchfx/xmlquery"
)

// XML parses a document into an *xmlquery.Node tree for XPath queries.
type XML struct{}

// Parse implements spider.Parser.
func (XML) Parse(raw []byte) (any, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}
	return doc, nil
}
