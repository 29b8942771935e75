package downloader

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Serves local paths and file:// URLs from disk, passing anything else
// on to Remote. Timetable extracts are often dropped on disk by a
// separate fetch job.
type Filesystem struct {
	Remote Downloader
}

func NewFilesystem(remote Downloader) *Filesystem {
	if remote == nil {
		remote = NewMemoryDownloader()
	}
	return &Filesystem{Remote: remote}
}

func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if IsRemote(url) {
		return f.Remote.Get(ctx, url, headers, options)
	}

	path := strings.TrimPrefix(url, "file://")

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}
	defer fh.Close()

	return readLimited(fh, options.MaxSize)
}
