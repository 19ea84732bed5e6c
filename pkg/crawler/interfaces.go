package crawler

import (
	"context"

	"sharecrawl/internal/downloader"
)

// Navigator is the browser surface the walker drives. One page backs the
// whole traversal; the strict open/walk/back discipline keeps its
// navigation state consistent with the destination path.
type Navigator interface {
	// Open navigates to the share URL and settles the initial view
	Open(ctx context.Context, url string) error
	// Entries returns the display names of the current folder view in
	// DOM order. A view whose item list never appears yields an empty
	// slice and no error.
	Entries(ctx context.Context) ([]string, error)
	// OpenEntry clicks the entry with the given display name
	OpenEntry(ctx context.Context, name string) error
	// Back returns to the parent view
	Back(ctx context.Context) error
}

// Fetcher downloads the file shown on the current page. Implemented by
// internal/downloader.
type Fetcher interface {
	Fetch(ctx context.Context, name, relDir string) (downloader.Result, error)
}
