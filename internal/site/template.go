package site

import (
	"net/url"
	"strings"
)

// render replaces every occurrence of each placeholder.
func render(template string, values map[string]string) string {
	out := template
	for key, value := range values {
		out = strings.ReplaceAll(out, key, value)
	}
	return out
}

// stripNullParams drops query parameters whose value is the literal "null",
// which is how an unset navigation value renders. Locators without a query
// are returned untouched.
func stripNullParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" || !strings.Contains(u.RawQuery, "null") {
		return raw
	}
	query := u.Query()
	removed := false
	for key, values := range query {
		kept := values[:0]
		for _, v := range values {
			if v == "null" {
				removed = true
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == 0 {
			query.Del(key)
		} else {
			query[key] = kept
		}
	}
	if !removed {
		return raw
	}
	u.RawQuery = query.Encode()
	return u.String()
}
