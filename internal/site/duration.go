package site

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Duration is a YAML duration that remembers whether it was set. Integers are
// milliseconds; strings use time.ParseDuration syntax.
type Duration struct {
	time.Duration
	Set bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := toDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	d.Set = true
	return nil
}

// Or returns the duration when set and fallback otherwise.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d.Set {
		return d.Duration
	}
	return fallback
}

func toDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case int, int64, uint64, float64:
		ms, err := cast.ToInt64E(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %v: %w", v, err)
		}
		return time.Duration(ms) * time.Millisecond, nil
	case string:
		s := strings.TrimSpace(v)
		if ms, err := cast.ToInt64E(s); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		d, err := cast.ToDurationE(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid duration %v", raw)
	}
}
