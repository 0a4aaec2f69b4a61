// Package parse provides the payload parsers a site can plug into the spider.
// Every parser is a pure bytes-to-value function that fails on malformed input.
package parse

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// Format names accepted by ForFormat.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatCSV  = "csv"
	FormatXML  = "xml"
	FormatHTML = "html"
)

// ForFormat returns the parser registered for format.
func ForFormat(format string) (spider.Parser, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON, "":
		return JSON{}, nil
	case FormatYAML, "yml":
		return YAML{}, nil
	case FormatCSV:
		return CSV{}, nil
	case FormatXML:
		return XML{}, nil
	case FormatHTML, "htm":
		return HTML{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", spider.ErrInvalidConfig, format)
	}
}
