package site

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// resolver looks a path up in parsed step data. A missing value is nil.
type resolver func(data *spider.ParsedData, path string) (any, error)

func resolverFor(format string) resolver {
	switch format {
	case "json":
		return func(data *spider.ParsedData, path string) (any, error) {
			return lookupJSON(data.Raw, path), nil
		}
	case "html", "htm":
		return lookupHTML
	case "xml":
		return lookupXML
	default:
		return func(data *spider.ParsedData, path string) (any, error) {
			doc, err := json.Marshal(data.Value)
			if err != nil {
				return nil, fmt.Errorf("encode value for path %q: %w", path, err)
			}
			return lookupJSON(doc, path), nil
		}
	}
}

// lookupJSON resolves a gjson path. __LAST__ is the last index of the top
// level array.
func lookupJSON(doc []byte, path string) any {
	if strings.Contains(path, placeholderLast) {
		last := int64(-1)
		if top := gjson.ParseBytes(doc); top.IsArray() {
			last = int64(len(top.Array())) - 1
		}
		path = strings.ReplaceAll(path, placeholderLast, strconv.FormatInt(last, 10))
	}
	res := gjson.GetBytes(doc, path)
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

// lookupHTML takes a CSS selector, optionally suffixed with @attr, and
// returns the trimmed text or attribute of the first match.
func lookupHTML(data *spider.ParsedData, path string) (any, error) {
	doc, ok := data.Value.(*goquery.Document)
	if !ok {
		return nil, fmt.Errorf("html path %q: unexpected value %T", path, data.Value)
	}
	if strings.Contains(path, placeholderLast) {
		return nil, fmt.Errorf("html path %q: %s is not supported", path, placeholderLast)
	}
	selector, attr, hasAttr := strings.Cut(path, "@")
	sel := doc.Find(strings.TrimSpace(selector))
	if sel.Length() == 0 {
		return nil, nil
	}
	first := sel.First()
	if hasAttr {
		v, exists := first.Attr(attr)
		if !exists {
			return nil, nil
		}
		return strings.TrimSpace(v), nil
	}
	return strings.TrimSpace(first.Text()), nil
}

// lookupXML evaluates an XPath expression and returns the inner text of the
// first matching node.
func lookupXML(data *spider.ParsedData, path string) (any, error) {
	root, ok := data.Value.(*xmlquery.Node)
	if !ok {
		return nil, fmt.Errorf("xml path %q: unexpected value %T", path, data.Value)
	}
	node, err := xmlquery.Query(root, path)
	if err != nil {
		return nil, fmt.Errorf("xml path %q: %w", path, err)
	}
	if node == nil {
		return nil, nil
	}
	return strings.TrimSpace(node.InnerText()), nil
}

// formatValue renders a looked-up value for use in a URL or filename. Whole
// floats print without a fraction.
func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10), nil
		}
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("value %v cannot be used in a template: %w", v, err)
	}
	return s, nil
}

// isEmpty reports whether a value carries no data: nil, zero-length strings,
// sequences and maps, scalars, and documents without content.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case *goquery.Document:
		return x == nil || strings.TrimSpace(x.Text()) == ""
	case *xmlquery.Node:
		return x == nil || x.FirstChild == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return true
	}
}
