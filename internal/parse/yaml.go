package parse

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML decodes a single YAML document.
type YAML struct{}

// Parse implements spider.Parser.
func (YAML) Parse(raw []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return v, nil
}
