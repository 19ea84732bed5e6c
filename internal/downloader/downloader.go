// Package downloader implements the per-file download policy: prefer a
// directly dereferenceable URL fetched over HTTP, fall back to simulating
// the UI's download click and watching the destination directory. At most
// one of the two strategies runs per call, and a failed direct fetch never
// falls through to the click path.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"sharecrawl/pkg/config"
	errs "sharecrawl/pkg/errors"
	"sharecrawl/pkg/logger"
	"sharecrawl/pkg/retry"
	"sharecrawl/pkg/storage"
)

// Strategy identifies how a file was (or was not) obtained
type Strategy string

const (
	StrategyDirect Strategy = "direct"
	StrategyClick  Strategy = "click"
	StrategyNone   Strategy = "none"
)

// PageProbe is the browser surface the downloader needs from the page
// currently showing the file entry
type PageProbe interface {
	// DirectURL extracts a directly dereferenceable URL if the page
	// exposes one
	DirectURL(ctx context.Context) (string, bool)
	// ClickDownload simulates a user click on the download control
	ClickDownload(ctx context.Context) error
	// RouteDownloads points browser-triggered downloads at a directory
	RouteDownloads(dir string) error
}

// Result describes the outcome of one download attempt
type Result struct {
	Name     string
	Path     string // tree-relative destination
	Strategy Strategy
	Size     int64
	Skipped  bool // size cap exceeded, nothing written
}

// Downloader produces best-effort file writes for file entries
type Downloader struct {
	page   PageProbe
	client *Client
	store  *storage.Manager
	cfg    config.DownloadConfig
	log    logger.Logger
}

// New creates a Downloader bound to a browser page and a storage tree
func New(page PageProbe, store *storage.Manager, cfg config.DownloadConfig, log logger.Logger) *Downloader {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Downloader{
		page:   page,
		client: NewClient(cfg.DownloadTimeout, cfg.UserAgent, cfg.AcceptHeader, log),
		store:  store,
		cfg:    cfg,
		log:    log,
	}
}

// Fetch downloads the file shown on the current page into
// <relDir>/<sanitized name>. When a direct URL is found the click path is
// never attempted, even if the fetch fails.
func (d *Downloader) Fetch(ctx context.Context, name, relDir string) (Result, error) {
	rel := path.Join(relDir, storage.SanitizeName(name))
	res := Result{Name: name, Path: rel, Strategy: StrategyNone}

	if url, ok := d.page.DirectURL(ctx); ok {
		return d.fetchDirect(ctx, url, res)
	}

	return d.fetchViaClick(ctx, relDir, res)
}

// fetchDirect probes the URL's size, skips oversized candidates without
// writing anything, and streams the content to the destination
func (d *Downloader) fetchDirect(ctx context.Context, url string, res Result) (Result, error) {
	res.Strategy = StrategyDirect

	size, err := d.client.ProbeSize(ctx, url)
	if err != nil {
		d.log.WithError(err).WithField("url", url).Debug("size probe failed, proceeding to fetch")
	} else if size > d.cfg.MaxFileSize {
		d.log.WarnWithFields("skipping file over size limit", map[string]interface{}{
			"name":  res.Name,
			"size":  size,
			"limit": d.cfg.MaxFileSize,
		})
		res.Skipped = true
		return res, nil
	}

	retryCfg := &retry.Config{
		MaxAttempts: d.cfg.MaxRetries,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      d.log,
	}

	var written int64
	err = retry.Do(func() error {
		n, err := d.downloadOnce(ctx, url, res.Path)
		written = n
		return err
	}, retryCfg)

	if err != nil {
		var typedErr *errs.Error
		if errors.As(err, &typedErr) && typedErr.Type == errs.ErrorTypeSizeLimit {
			d.log.WarnWithFields("skipping file over size limit", map[string]interface{}{
				"name":  res.Name,
				"limit": d.cfg.MaxFileSize,
			})
			res.Skipped = true
			return res, nil
		}
		return res, fmt.Errorf("direct fetch of %q: %w", res.Name, err)
	}

	res.Size = written
	d.log.InfoWithFields("file downloaded", map[string]interface{}{
		"name":     res.Name,
		"path":     res.Path,
		"size":     written,
		"strategy": string(StrategyDirect),
	})
	return res, nil
}

// downloadOnce performs a single GET and writes the body to the
// destination. The size cap is re-checked against the response headers
// and enforced again on the actual bytes copied.
func (d *Downloader) downloadOnce(ctx context.Context, url, rel string) (int64, error) {
	resp, err := d.client.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > d.cfg.MaxFileSize {
		return 0, errs.New(errs.ErrorTypeSizeLimit,
			fmt.Sprintf("content length %d exceeds limit %d", resp.ContentLength, d.cfg.MaxFileSize))
	}

	n, err := d.store.Save(rel, io.LimitReader(resp.Body, d.cfg.MaxFileSize+1))
	if err != nil {
		return n, errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("write failed: %v", err))
	}
	if n > d.cfg.MaxFileSize {
		if rmErr := d.store.Remove(rel); rmErr != nil {
			d.log.WithError(rmErr).Warn("failed to remove oversized download")
		}
		return n, errs.New(errs.ErrorTypeSizeLimit,
			fmt.Sprintf("body exceeded limit %d", d.cfg.MaxFileSize))
	}

	return n, nil
}

// fetchViaClick simulates the UI click and waits for the browser's own
// download mechanism to drop a new file into the destination directory
func (d *Downloader) fetchViaClick(ctx context.Context, relDir string, res Result) (Result, error) {
	res.Strategy = StrategyClick

	if err := d.page.RouteDownloads(d.store.FullPath(relDir)); err != nil {
		d.log.WithError(err).Warn("failed to route browser downloads, using browser default")
	}

	watcher, err := d.store.NewWatcher(relDir, d.cfg.PollInterval)
	if err != nil {
		return res, fmt.Errorf("watch %q: %w", relDir, err)
	}

	if err := d.page.ClickDownload(ctx); err != nil {
		d.log.WithError(err).WithField("name", res.Name).Warn("no usable download control")
		res.Strategy = StrategyNone
		return res, fmt.Errorf("click download for %q: %w", res.Name, err)
	}

	got, err := watcher.Wait(ctx, d.cfg.DownloadTimeout)
	if err != nil {
		d.log.WithError(err).WithField("name", res.Name).Warn("click download did not complete")
		return res, fmt.Errorf("await download of %q: %w", res.Name, err)
	}

	// The browser saves under its own idea of the filename; move it to
	// the sanitized destination when the two differ.
	if got != res.Path {
		if err := d.store.Rename(got, res.Path); err != nil {
			d.log.WithError(err).Warn("failed to rename click download")
			res.Path = got
		}
	}

	if info, err := d.store.Stat(res.Path); err == nil {
		res.Size = info.Size()
	}

	d.log.InfoWithFields("file downloaded", map[string]interface{}{
		"name":     res.Name,
		"path":     res.Path,
		"size":     res.Size,
		"strategy": string(StrategyClick),
	})
	return res, nil
}
