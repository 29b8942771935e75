package downloader

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Keeps fetched extracts in memory for options.CacheTTL. Requests for
// the same URL with different headers are cached separately.
type MemoryDownloader struct {
	TimeNow func() time.Time

	// Does the actual fetching. Defaults to HTTPGet.
	Fetch func(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error)

	mutex   sync.Mutex
	entries map[string]cached
}

type cached struct {
	body    []byte
	expires time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		TimeNow: time.Now,
		Fetch:   HTTPGet,
		entries: map[string]cached{},
	}
}

func cacheKey(url string, headers map[string]string) string {
	if len(headers) == 0 {
		return url
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := strings.Builder{}
	b.WriteString(url)
	for _, k := range keys {
		b.WriteString("\n" + k + ":" + headers[k])
	}
	return b.String()
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	key := cacheKey(url, headers)

	if options.Cache {
		d.mutex.Lock()
		entry, found := d.entries[key]
		d.mutex.Unlock()
		if found && d.TimeNow().Before(entry.expires) {
			return entry.body, nil
		}
	}

	// Not holding the lock here, extracts can take minutes
	body, err := d.Fetch(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if options.Cache {
		now := d.TimeNow()
		d.mutex.Lock()
		for k, e := range d.entries {
			if !now.Before(e.expires) {
				delete(d.entries, k)
			}
		}
		d.entries[key] = cached{body: body, expires: now.Add(options.CacheTTL)}
		d.mutex.Unlock()
	}

	return body, nil
}

// Number of entries held, expired or not.
func (d *MemoryDownloader) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.entries)
}
