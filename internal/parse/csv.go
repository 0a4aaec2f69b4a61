package parse

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSV decodes a headed CSV document into a []any of map[string]any rows keyed
// by the header. Comma defaults to ','.
type CSV struct {
	Comma rune
}

// Parse implements spider.Parser.
func (p CSV) Parse(raw []byte) (any, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	if p.Comma != 0 {
		r.Comma = p.Comma
	}
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	rows := make([]any, 0, len(records))
	if len(records) == 0 {
		return rows, nil
	}
	header := records[0]
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
