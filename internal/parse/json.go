package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// JSON decodes a single JSON document. Arrays become []any and objects
// map[string]any. Numbers are kept as json.Number when UseNumber is set.
type JSON struct {
	UseNumber bool
}

// Parse implements spider.Parser.
func (p JSON) Parse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if p.UseNumber {
		dec.UseNumber()
	}
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	// reject trailing garbage after the first document
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode json: unexpected data after document")
	}
	return v, nil
}
