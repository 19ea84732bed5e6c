package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sharecrawl/internal/downloader"
	"sharecrawl/pkg/browser"
	"sharecrawl/pkg/config"
	"sharecrawl/pkg/crawler"
	"sharecrawl/pkg/logger"
	"sharecrawl/pkg/storage"
)

var (
	// Crawl command flags
	outputDir    string
	maxFileSize  int64
	rateLimit    int
	controlURL   string
	headless     bool
	overwrite    bool
	resumeCrawl  bool
	forceRestart bool
)

// crawlCmd represents the crawl command
var crawlCmd = &cobra.Command{
	Use:   "crawl <share-url>",
	Short: "Recursively download a shared folder",
	Long: `Open the share URL in a browser session and download every file in the
folder tree into the output directory, mirroring the remote hierarchy by
sanitized display name.

Entries without a "." in their display name are treated as folders; use
force_files / force_folders in the config file to override known cases.`,
	Example: `  # Download a share into ./downloads
  sharecrawl crawl https://share.example.com/f/abc123

  # Custom destination and a 500MB size cap
  sharecrawl crawl https://share.example.com/f/abc123 --output ./media --max-file-size 524288000

  # Attach to an already-running Chrome
  sharecrawl crawl https://share.example.com/f/abc123 --control-url ws://127.0.0.1:9222/...

  # Resume an interrupted crawl
  sharecrawl crawl https://share.example.com/f/abc123 --resume`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for downloads (default: ./downloads)")
	crawlCmd.Flags().Int64Var(&maxFileSize, "max-file-size", 0, "maximum downloadable file size in bytes")
	crawlCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "browser actions per minute")
	crawlCmd.Flags().StringVar(&controlURL, "control-url", "", "DevTools WebSocket URL of a running Chrome (default: launch one)")
	crawlCmd.Flags().BoolVar(&headless, "headless", true, "run the launched browser headless")
	crawlCmd.Flags().BoolVar(&overwrite, "overwrite", false, "re-download files that already exist locally")
	crawlCmd.Flags().BoolVar(&resumeCrawl, "resume", false, "resume from last checkpoint")
	crawlCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "ignore any existing checkpoint")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	shareURL := strings.TrimSpace(args[0])
	if shareURL == "" {
		return fmt.Errorf("share URL must not be empty")
	}

	flags := make(map[string]interface{})
	if outputDir != "" {
		flags["output"] = outputDir
	}
	if maxFileSize > 0 {
		flags["max-file-size"] = maxFileSize
	}
	if rateLimit > 0 {
		flags["rate-limit"] = rateLimit
	}
	if controlURL != "" {
		flags["control-url"] = controlURL
	}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = headless
	}
	if cmd.Flags().Changed("overwrite") {
		flags["overwrite"] = overwrite
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	log := logger.GetLogger()

	store, err := storage.NewManager(cfg.Output.BaseDirectory)
	if err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}

	session, err := browser.NewSession(browser.Config{
		ControlURL:      cfg.Browser.ControlURL,
		Headless:        cfg.Browser.Headless,
		ConsentSelector: cfg.Browser.ConsentSelector,
		SettleDelay:     cfg.Browser.SettleDelay,
		ListSelector:    cfg.Crawl.ListSelector,
		SelectorTimeout: cfg.Crawl.SelectorTimeout,
		ButtonSelector:  cfg.Download.ButtonSelector,
		VideoSelector:   cfg.Download.VideoSelector,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("browser shutdown failed")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dl := downloader.New(session, store, cfg.Download, log)
	c := crawler.New(session, dl, store, cfg, log)

	stats, err := c.Run(ctx, shareURL, crawler.Options{
		Resume:       resumeCrawl,
		ForceRestart: forceRestart,
	})
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}

	fmt.Printf("Done: %d downloaded, %d skipped, %d failed (%d folders, %d files)\n",
		stats.Downloaded, stats.Skipped, stats.Failed, stats.Folders, stats.Files)
	return nil
}
