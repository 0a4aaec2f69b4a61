package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/data-spider/internal/hash/sha256"
	"github.com/JakeFAU/data-spider/internal/spider"
	"github.com/JakeFAU/data-spider/internal/storage"
)

// defaultAssetExt is used when an asset URL has no extension.
const defaultAssetExt = "bin"

// pageFilename names page-store files after the iteration.
func pageFilename(template string) storage.FilenameFunc {
	return func(result spider.StepResult) (string, error) {
		return render(template, map[string]string{placeholderPage: strconv.Itoa(result.Iteration)}), nil
	}
}

// valueFilename names files after a value extracted from the result. An empty
// value yields an empty name, which stops the crawl.
func valueFilename(template, valuePath string, resolve resolver) storage.FilenameFunc {
	return func(result spider.StepResult) (string, error) {
		if result.Data == nil {
			return "", spider.ErrMissingResponseData
		}
		value, err := resolve(result.Data, valuePath)
		if err != nil {
			return "", err
		}
		rendered, err := formatValue(value)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(rendered) == "" {
			return "", nil
		}
		return render(template, map[string]string{placeholderValue: rendered}), nil
	}
}

// recordExpander turns each record into <id>.json plus its assets.
type recordExpander struct {
	def     StoreDef
	request spider.Target
	fetcher spider.Fetcher
	hasher  *sha256.Hasher
}

func (e *recordExpander) expand(_ context.Context, record any, _ spider.StepResult) ([]storage.Storable, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	id, err := e.recordID(doc)
	if err != nil {
		return nil, err
	}
	name := ""
	if id != "" {
		name = id + ".json"
	}
	storables := []storage.Storable{
		storage.BytesStorable(name, doc).WithContentType("application/json"),
	}

	for i, asset := range e.def.Assets {
		res := gjson.GetBytes(doc, asset.URLPath)
		link := strings.TrimSpace(res.String())
		if link == "" {
			if asset.Optional {
				continue
			}
			return nil, fmt.Errorf("record %s: assets[%d]: no url at %q", id, i, asset.URLPath)
		}
		filename := render(asset.Filename, map[string]string{
			placeholderID:  id,
			placeholderExt: assetExt(link),
		})
		target := e.request
		target.URLs = []string{link}
		st := storage.URLStorable(filename, target, e.fetcher)
		if asset.Priority != nil {
			st = st.WithPriority(*asset.Priority)
		}
		storables = append(storables, st)
	}
	return storables, nil
}

// recordID reads id_path, or hashes the record when no path is configured.
// A configured path that resolves to nothing yields an empty id.
func (e *recordExpander) recordID(doc []byte) (string, error) {
	if e.def.IDPath == "" {
		return e.hasher.RecordID(doc)
	}
	return formatValue(lookupJSON(doc, e.def.IDPath))
}

// assetExt returns the extension of the URL path without the dot.
func assetExt(link string) string {
	p := link
	if u, err := url.Parse(link); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		return defaultAssetExt
	}
	return strings.ToLower(ext)
}

// subValueStore hands the wrapped store the value found at a path instead of
// the whole parsed value.
type subValueStore struct {
	next    spider.Store
	path    string
	resolve resolver
}

// Save implements spider.Store.
func (s *subValueStore) Save(ctx context.Context, result spider.StepResult) (bool, error) {
	if result.Data == nil {
		return false, spider.ErrMissingResponseData
	}
	value, err := s.resolve(result.Data, s.path)
	if err != nil {
		return false, fmt.Errorf("store.records_path: %w", err)
	}
	narrowed := result
	narrowed.Data = &spider.ParsedData{Raw: result.Data.Raw, Value: value}
	return s.next.Save(ctx, narrowed)
}

// Location implements spider.Locator.
func (s *subValueStore) Location() string {
	if loc, ok := s.next.(spider.Locator); ok {
		return loc.Location()
	}
	return ""
}
