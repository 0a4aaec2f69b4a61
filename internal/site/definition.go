package site

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/data-spider/internal/spider"
	"github.com/JakeFAU/data-spider/internal/storage"
)

// Navigation types.
const (
	NavigationPage    = "page"
	NavigationExtract = "extract-from-result"
)

// Store types.
const (
	StorePage    = "page"
	StoreExtract = "extract-from-result"
	StoreRecords = "records"
)

// Template placeholders.
const (
	placeholderPage  = "__PAGE__"
	placeholderValue = "__VALUE__"
	placeholderLast  = "__LAST__"
	placeholderID    = "__ID__"
	placeholderExt   = "__EXT__"
)

// Store defaults.
const (
	DefaultSubDirectoryDepth = 2
	DefaultPageFilename      = placeholderPage + ".json"
	DefaultValueFilename     = placeholderValue + ".json"
	DefaultAssetFilename     = placeholderID + "." + placeholderExt
)

var formats = []string{"json", "yaml", "yml", "csv", "xml", "html", "htm"}

// Definition describes one site.
type Definition struct {
	Name       string        `yaml:"name"`
	Format     string        `yaml:"format"`
	URL        string        `yaml:"url"`
	Alternates []string      `yaml:"alternates"`
	Request    RequestDef    `yaml:"request"`
	Behavior   BehaviorDef   `yaml:"behavior"`
	Navigation NavigationDef `yaml:"navigation"`
	Store      StoreDef      `yaml:"store"`
	Done       DoneDef       `yaml:"done"`
}

// RequestDef holds per-site request settings.
type RequestDef struct {
	Method    string            `yaml:"method"`
	Headers   map[string]string `yaml:"headers"`
	Body      string            `yaml:"body"`
	UserAgent string            `yaml:"user_agent"`
	Encoding  string            `yaml:"encoding"`
}

// BehaviorDef holds per-site pacing overrides. Unset fields inherit the
// application defaults.
type BehaviorDef struct {
	Delay          Duration `yaml:"delay"`
	RetryDelay     Duration `yaml:"retry_delay"`
	MaxRetries     int      `yaml:"max_retries"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// NavigationDef selects how the next URL is computed.
type NavigationDef struct {
	Type string `yaml:"type"`
	// Initial is kept as a node so an explicit null can be told apart from a
	// missing key.
	Initial   yaml.Node `yaml:"initial"`
	Increment *int      `yaml:"increment"`
	ValuePath string    `yaml:"value_path"`
	MaxPages  int       `yaml:"max_pages"`
}

// StoreDef selects how results are written.
type StoreDef struct {
	Type               string     `yaml:"type"`
	Category           string     `yaml:"category"`
	SubDirectoryDepth  *int       `yaml:"sub_directory_depth"`
	Filename           string     `yaml:"filename"`
	ValuePath          string     `yaml:"value_path"`
	RecordsPath        string     `yaml:"records_path"`
	IDPath             string     `yaml:"id_path"`
	Assets             []AssetDef `yaml:"assets"`
	SkipExisting       *bool      `yaml:"skip_existing"`
	SkipClearOnFailure bool       `yaml:"skip_clear_on_failure"`
	Delay              Duration   `yaml:"delay"`
}

// AssetDef downloads a file referenced by a record.
type AssetDef struct {
	URLPath  string `yaml:"url_path"`
	Filename string `yaml:"filename"`
	Optional bool   `yaml:"optional"`
	Priority *int   `yaml:"priority"`
}

// DoneDef replaces the default termination rule. By default a crawl stops on
// the first response whose parsed body is empty (null, "", [] or {}). Page
// navigation does not detect the end of a paginated API on its own: an API that
// keeps answering with a non-empty envelope once the pages run out is crawled
// forever unless navigation.max_pages or WhenEmptyPath is set.
type DoneDef struct {
	WhenEmptyPath string `yaml:"when_empty_path"`
	Never         bool   `yaml:"never"`
}

// Load reads and parses a definition file. JSON files are accepted as YAML.
func Load(path string) (Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // site files are operator supplied
	if err != nil {
		return Definition{}, fmt.Errorf("read site %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("site %s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a definition, fills defaults and validates it.
func Parse(data []byte) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return Definition{}, fmt.Errorf("%w: empty site definition", spider.ErrInvalidConfig)
		}
		return Definition{}, fmt.Errorf("%w: %w", spider.ErrInvalidConfig, err)
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func (d *Definition) applyDefaults() {
	d.Format = strings.ToLower(strings.TrimSpace(d.Format))
	if d.Format == "" {
		d.Format = "json"
	}
	if d.Store.SubDirectoryDepth == nil {
		depth := DefaultSubDirectoryDepth
		d.Store.SubDirectoryDepth = &depth
	}
	if d.Store.SkipExisting == nil {
		skip := true
		d.Store.SkipExisting = &skip
	}
	if d.Store.Filename == "" {
		switch d.Store.Type {
		case StorePage:
			d.Store.Filename = DefaultPageFilename
		case StoreExtract:
			d.Store.Filename = DefaultValueFilename
		}
	}
	if d.Navigation.Increment == nil {
		increment := 1
		d.Navigation.Increment = &increment
	}
	for i := range d.Store.Assets {
		if d.Store.Assets[i].Filename == "" {
			d.Store.Assets[i].Filename = DefaultAssetFilename
		}
	}
}

// Validate checks the definition for missing or conflicting settings.
func (d Definition) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: site %s: %s", spider.ErrInvalidConfig, d.Name, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: site name must be set", spider.ErrInvalidConfig)
	}
	if strings.TrimSpace(d.URL) == "" {
		return invalid("url must be set")
	}
	if !slices.Contains(formats, d.Format) {
		return invalid("unsupported format %q", d.Format)
	}
	if d.Behavior.MaxRetries < 0 {
		return invalid("behavior.max_retries must be >= 0")
	}

	switch d.Navigation.Type {
	case NavigationPage:
		if _, _, err := d.pageInitial(); err != nil {
			return invalid("navigation.initial: %v", err)
		}
	case NavigationExtract:
		if d.Navigation.ValuePath == "" {
			return invalid("navigation.value_path is required for %s navigation", NavigationExtract)
		}
	default:
		return invalid("unknown navigation.type %q", d.Navigation.Type)
	}
	if d.Navigation.MaxPages < 0 {
		return invalid("navigation.max_pages must be >= 0")
	}

	if d.Store.SubDirectoryDepth != nil && *d.Store.SubDirectoryDepth < 0 {
		return invalid("store.sub_directory_depth must be >= 0")
	}
	switch d.Store.Type {
	case StorePage:
	case StoreExtract:
		if d.Store.ValuePath == "" {
			return invalid("store.value_path is required for %s store", StoreExtract)
		}
	case StoreRecords:
		if !d.structured() {
			return invalid("records store needs json, yaml or csv data, got %s", d.Format)
		}
		for i, asset := range d.Store.Assets {
			if asset.URLPath == "" {
				return invalid("store.assets[%d].url_path must be set", i)
			}
		}
	default:
		return invalid("unknown store.type %q", d.Store.Type)
	}
	return nil
}

// Category is the output directory name for the site.
func (d Definition) Category() string {
	if d.Store.Category != "" {
		return storage.SanitizeCategory(d.Store.Category)
	}
	return storage.SanitizeCategory(d.Name)
}

// structured reports whether value paths are gjson paths.
func (d Definition) structured() bool {
	switch d.Format {
	case "json", "yaml", "yml", "csv":
		return true
	default:
		return false
	}
}

// pageInitial returns the starting page number. A nil pointer means the
// initial value was an explicit null.
func (d Definition) pageInitial() (*int, bool, error) {
	node := d.Navigation.Initial
	if node.Kind == 0 {
		zero := 0
		return &zero, false, nil
	}
	if node.ShortTag() == "!!null" {
		return nil, true, nil
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil, true, err
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return nil, true, err
	}
	return &n, true, nil
}

// extractInitial returns the initial extracted value, nil when unset.
func (d Definition) extractInitial() (any, error) {
	node := d.Navigation.Initial
	if node.Kind == 0 || node.ShortTag() == "!!null" {
		return nil, nil
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// headers returns the configured request headers.
func (r RequestDef) headers(fallbackAgent string) http.Header {
	h := http.Header{}
	for key, value := range r.Headers {
		h.Set(key, value)
	}
	switch {
	case r.UserAgent != "":
		h.Set("User-Agent", r.UserAgent)
	case h.Get("User-Agent") == "" && fallbackAgent != "":
		h.Set("User-Agent", fallbackAgent)
	}
	return h
}
