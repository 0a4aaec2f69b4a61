package storage

import (
	"path"
	"regexp"
	"strings"
)

var categoryPattern = regexp.MustCompile(`[^a-z0-9_.-]`)

// SanitizeCategory lower-cases name and replaces anything outside
// [a-z0-9_.-] with an underscore.
func SanitizeCategory(name string) string {
	return categoryPattern.ReplaceAllString(strings.ToLower(name), "_")
}

// SubPaths returns the sharded directory for baseName under category: one
// single-character directory per level taken from successive characters of
// baseName, with "0" for levels past its end.
func SubPaths(baseName string, depth int, category string) string {
	parts := make([]string, 0, depth+1)
	parts = append(parts, SanitizeCategory(category))
	chars := []rune(baseName)
	for i := 0; i < depth; i++ {
		if i < len(chars) {
			parts = append(parts, shardDir(chars[i]))
		} else {
			parts = append(parts, "0")
		}
	}
	return path.Join(parts...)
}

// ObjectPath returns the full sharded path for filename. The extension is
// stripped before sharding.
func ObjectPath(category string, depth int, filename string) string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	return path.Join(SubPaths(base, depth, category), filename)
}

// shardDir keeps separators and dots out of directory names.
func shardDir(r rune) string {
	switch r {
	case '/', '\\', '.':
		return "_"
	default:
		return string(r)
	}
}
