package site

import (
	"fmt"
	"strconv"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// Navigator computes targets from a definition. It implements
// spider.DoneChecker.
type Navigator struct {
	def     Definition
	resolve resolver
	initial any
	start   *int
}

// NewNavigator builds the navigator for def.
func NewNavigator(def Definition) (*Navigator, error) {
	n := &Navigator{def: def, resolve: resolverFor(def.Format)}
	switch def.Navigation.Type {
	case NavigationPage:
		start, _, err := def.pageInitial()
		if err != nil {
			return nil, fmt.Errorf("%w: site %s: navigation.initial: %w", spider.ErrInvalidConfig, def.Name, err)
		}
		n.start = start
	case NavigationExtract:
		initial, err := def.extractInitial()
		if err != nil {
			return nil, fmt.Errorf("%w: site %s: navigation.initial: %w", spider.ErrInvalidConfig, def.Name, err)
		}
		n.initial = initial
	default:
		return nil, fmt.Errorf("%w: site %s: unknown navigation.type %q", spider.ErrInvalidConfig, def.Name, def.Navigation.Type)
	}
	return n, nil
}

// NextTarget implements spider.Navigator.
func (n *Navigator) NextTarget(prev spider.StepResult) (*spider.Target, error) {
	iteration := prev.Iteration
	if n.def.Navigation.MaxPages > 0 && iteration >= n.def.Navigation.MaxPages {
		return nil, nil
	}

	values := map[string]string{}
	switch n.def.Navigation.Type {
	case NavigationPage:
		values[placeholderPage] = n.page(iteration)
	case NavigationExtract:
		value := n.initial
		if prev.Data != nil {
			extracted, err := n.resolve(prev.Data, n.def.Navigation.ValuePath)
			if err != nil {
				return nil, fmt.Errorf("navigation.value_path: %w", err)
			}
			if extracted == nil {
				return nil, nil
			}
			value = extracted
		}
		rendered, err := formatValue(value)
		if err != nil {
			return nil, err
		}
		if value == nil {
			rendered = "null"
		}
		values[placeholderValue] = rendered
	}

	urls := make([]string, 0, 1+len(n.def.Alternates))
	for _, tmpl := range append([]string{n.def.URL}, n.def.Alternates...) {
		urls = append(urls, stripNullParams(render(tmpl, values)))
	}
	// Method, headers and encoding come from the site request settings.
	target := spider.Target{URLs: urls}
	if n.def.Request.Body != "" {
		target.Body = []byte(render(n.def.Request.Body, values))
	}
	return &target, nil
}

// page renders the page number for an iteration. A null initial value counts
// from zero, so the first request still carries page=0.
func (n *Navigator) page(iteration int) string {
	increment := 1
	if n.def.Navigation.Increment != nil {
		increment = *n.def.Navigation.Increment
	}
	if n.start == nil {
		return strconv.Itoa(iteration * increment)
	}
	return strconv.Itoa(*n.start + iteration*increment)
}

// IsDone implements spider.DoneChecker.
func (n *Navigator) IsDone(latest spider.StepResult) bool {
	if n.def.Done.Never {
		return false
	}
	if latest.Data == nil {
		return true
	}
	if path := n.def.Done.WhenEmptyPath; path != "" {
		value, err := n.resolve(latest.Data, path)
		if err != nil {
			return true
		}
		return isEmpty(value)
	}
	return isEmpty(latest.Data.Value)
}
