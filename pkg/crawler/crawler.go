// Package crawler walks a file-sharing folder view depth-first and hands
// each file entry to a Fetcher. Traversal is strictly sequential: one
// browser page is the shared resource and entries are processed in DOM
// order, folders before files only as the listing dictates.
package crawler

import (
	"context"
	"path"
	"time"

	"sharecrawl/pkg/checkpoint"
	"sharecrawl/pkg/config"
	"sharecrawl/pkg/logger"
	"sharecrawl/pkg/ratelimit"
	"sharecrawl/pkg/storage"
)

// Stats summarizes a crawl
type Stats struct {
	Folders    int
	Files      int
	Downloaded int
	Skipped    int
	Failed     int
}

// Options toggles resume behavior
type Options struct {
	// Resume picks up a previous checkpoint for the same share URL
	Resume bool
	// ForceRestart deletes any existing checkpoint before crawling
	ForceRestart bool
}

// Crawler orchestrates the folder traversal
type Crawler struct {
	nav        Navigator
	fetcher    Fetcher
	store      *storage.Manager
	classifier *Classifier
	limiter    ratelimit.Limiter
	cfg        *config.Config
	log        logger.Logger

	cpManager *checkpoint.Manager
	cp        *checkpoint.Checkpoint
	stats     Stats
}

// New creates a Crawler
func New(nav Navigator, fetcher Fetcher, store *storage.Manager, cfg *config.Config, log logger.Logger) *Crawler {
	if log == nil {
		log = logger.GetLogger()
	}

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.Crawl.RequestsPerMinute > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.Crawl.RequestsPerMinute, time.Minute)
	}

	return &Crawler{
		nav:        nav,
		fetcher:    fetcher,
		store:      store,
		classifier: NewClassifier(cfg.Crawl.ForceFiles, cfg.Crawl.ForceFolders),
		limiter:    limiter,
		cfg:        cfg,
		log:        log,
	}
}

// Run opens the share URL and walks the whole tree. Only bootstrap
// failures (initial navigation) and context cancellation abort the crawl;
// per-entry failures are logged and counted.
func (c *Crawler) Run(ctx context.Context, shareURL string, opts Options) (Stats, error) {
	c.stats = Stats{}

	if err := c.setupCheckpoint(shareURL, opts); err != nil {
		return c.stats, err
	}

	c.log.WithField("url", shareURL).Info("opening share")
	if err := c.nav.Open(ctx, shareURL); err != nil {
		return c.stats, err
	}

	if err := c.walk(ctx, ""); err != nil {
		return c.stats, err
	}

	c.finishCheckpoint()

	c.log.InfoWithFields("crawl finished", map[string]interface{}{
		"folders":    c.stats.Folders,
		"files":      c.stats.Files,
		"downloaded": c.stats.Downloaded,
		"skipped":    c.stats.Skipped,
		"failed":     c.stats.Failed,
	})
	return c.stats, nil
}

func (c *Crawler) setupCheckpoint(shareURL string, opts Options) error {
	mgr, err := checkpoint.NewManager(shareURL)
	if err != nil {
		c.log.WithError(err).Warn("checkpointing disabled")
		return nil
	}
	c.cpManager = mgr

	if opts.ForceRestart && mgr.Exists() {
		if err := mgr.Delete(); err != nil {
			c.log.WithError(err).Warn("failed to delete existing checkpoint")
		}
	} else if opts.Resume && mgr.Exists() {
		cp, err := mgr.Load()
		if err != nil {
			c.log.WithError(err).Warn("failed to load checkpoint, starting fresh")
		} else if cp != nil {
			c.log.WithField("completed", cp.TotalDownloaded).Info("resuming from checkpoint")
			c.cp = cp
			return nil
		}
	}

	cp, err := mgr.Create(shareURL)
	if err != nil {
		c.log.WithError(err).Warn("checkpointing disabled")
		c.cpManager = nil
		return nil
	}
	c.cp = cp
	return nil
}

// finishCheckpoint removes the checkpoint after a fully clean crawl so
// the next run starts fresh; a crawl with failures keeps it for resume
func (c *Crawler) finishCheckpoint() {
	if c.cpManager == nil {
		return
	}
	if c.stats.Failed == 0 {
		if err := c.cpManager.Delete(); err != nil {
			c.log.WithError(err).Warn("failed to remove checkpoint")
		}
		return
	}
	c.saveCheckpoint()
}

func (c *Crawler) saveCheckpoint() {
	if c.cpManager == nil || c.cp == nil {
		return
	}
	if err := c.cpManager.Save(c.cp); err != nil {
		c.log.WithError(err).Warn("failed to save checkpoint")
	}
}

// walk processes the current folder view, recursing into subfolders.
// relDir is the tree-relative destination for this view. Only context
// cancellation propagates; everything else is contained per entry.
func (c *Crawler) walk(ctx context.Context, relDir string) error {
	names, err := c.nav.Entries(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).WithField("dir", relDir).Error("failed to enumerate folder")
		return nil
	}

	c.log.DebugWithFields("processing folder", map[string]interface{}{
		"dir":     relDir,
		"entries": len(names),
	})

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		if c.classifier.IsFolder(name) {
			c.stats.Folders++
			if err := c.processFolder(ctx, relDir, name); err != nil {
				return err
			}
		} else {
			c.stats.Files++
			if err := c.processFile(ctx, relDir, name); err != nil {
				return err
			}
		}
	}

	return nil
}

// processFolder enters a subfolder, recurses, and navigates back.
// Returns an error only on context cancellation.
func (c *Crawler) processFolder(ctx context.Context, relDir, name string) error {
	sub := path.Join(relDir, storage.SanitizeName(name))
	log := c.log.WithField("folder", sub)

	if err := c.store.EnsureDir(sub); err != nil {
		log.WithError(err).Error("failed to create destination directory, skipping folder")
		c.stats.Failed++
		return nil
	}

	if err := c.nav.OpenEntry(ctx, name); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Error("failed to open folder, skipping")
		c.stats.Failed++
		return nil
	}

	if err := c.walk(ctx, sub); err != nil {
		return err
	}

	if err := c.nav.Back(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Traversal state may be off from here on; keep going with the
		// remaining siblings rather than aborting the whole crawl.
		log.WithError(err).Error("failed to navigate back from folder")
	}
	return nil
}

// processFile opens a file entry, downloads it, and navigates back.
// Returns an error only on context cancellation.
func (c *Crawler) processFile(ctx context.Context, relDir, name string) error {
	rel := path.Join(relDir, storage.SanitizeName(name))
	log := c.log.WithField("file", rel)

	if c.cp != nil && c.cp.IsCompleted(rel) {
		log.Debug("already downloaded in a previous session, skipping")
		c.stats.Skipped++
		return nil
	}
	if !c.cfg.Output.OverwriteExisting && c.store.Exists(rel) {
		log.Debug("destination already exists, skipping")
		c.stats.Skipped++
		return nil
	}

	if err := c.nav.OpenEntry(ctx, name); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Error("failed to open file entry, skipping")
		c.stats.Failed++
		return nil
	}

	res, fetchErr := c.fetcher.Fetch(ctx, name, relDir)

	if err := c.nav.Back(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Error("failed to navigate back from file view")
	}

	switch {
	case fetchErr != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(fetchErr).Error("download failed")
		c.stats.Failed++
	case res.Skipped:
		c.stats.Skipped++
	default:
		c.stats.Downloaded++
		if c.cp != nil {
			c.cp.MarkCompleted(res.Path, string(res.Strategy))
			c.saveCheckpoint()
		}
	}
	return nil
}
