package storage

import (
	"context"
	"fmt"

	"github.com/JakeFAU/data-spider/internal/spider"
)

// Default storable priorities. Lower values are written first.
const (
	PriorityBytes = 0
	PriorityURL   = 10
)

// Storable is one unit of output derived from a record.
type Storable struct {
	Filename    string
	Priority    int
	ContentType string
	// Produce materialises the payload. It is only called when the file is
	// actually written.
	Produce func(ctx context.Context) ([]byte, error)
}

// BytesStorable stores data already in hand.
func BytesStorable(filename string, data []byte) Storable {
	payload := append([]byte(nil), data...)
	return Storable{
		Filename: filename,
		Priority: PriorityBytes,
		Produce: func(context.Context) ([]byte, error) {
			return payload, nil
		},
	}
}

// URLStorable downloads target through fetcher when it is written.
func URLStorable(filename string, target spider.Target, fetcher spider.Fetcher) Storable {
	return Storable{
		Filename: filename,
		Priority: PriorityURL,
		Produce: func(ctx context.Context) ([]byte, error) {
			resp, err := fetcher.Fetch(ctx, target)
			if err != nil {
				return nil, fmt.Errorf("download %s: %w", target, err)
			}
			return resp.Body, nil
		},
	}
}

// WithPriority returns a copy of s with priority p.
func (s Storable) WithPriority(p int) Storable {
	s.Priority = p
	return s
}

// WithContentType returns a copy of s with the given content type.
func (s Storable) WithContentType(ct string) Storable {
	s.ContentType = ct
	return s
}
