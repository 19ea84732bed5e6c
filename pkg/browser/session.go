// Package browser drives a Chrome session via Rod: navigation, consent
// dismissal, folder-view queries, and download click dispatch. It is the
// only package that talks to the live DOM.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	errs "sharecrawl/pkg/errors"
	"sharecrawl/pkg/logger"
	"sharecrawl/pkg/retry"
)

// probeTimeout bounds element lookups that are allowed to fail fast
// (consent dialog, download button, video element).
const probeTimeout = 2 * time.Second

// Config configures a browser session
type Config struct {
	// ControlURL is the DevTools WebSocket URL of an external Chrome.
	// Empty means launch a local browser via the Rod launcher.
	ControlURL      string
	Headless        bool
	ConsentSelector string
	SettleDelay     time.Duration

	ListSelector    string
	SelectorTimeout time.Duration
	ButtonSelector  string
	VideoSelector   string

	Logger logger.Logger
}

// Session owns one browser page that drives the entire traversal
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
	cfg     Config
	log     logger.Logger
}

// NewSession launches Chrome (or connects to a remote instance) and
// prepares a stealth page
func NewSession(cfg Config) (*Session, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	s := &Session{cfg: cfg, log: log}

	wsURL := cfg.ControlURL
	if wsURL == "" {
		l := launcher.New().
			Headless(cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("launch failed: %v", err))
		}
		wsURL = u
		s.lnch = l
		log.DebugWithFields("launched local chrome", map[string]interface{}{
			"control_url": wsURL,
			"headless":    cfg.Headless,
		})
	} else {
		log.DebugWithFields("connecting to remote chrome", map[string]interface{}{
			"control_url": wsURL,
		})
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("connect failed: %v", err))
	}
	s.browser = b

	page, err := stealth.Page(b)
	if err != nil {
		s.cleanup()
		return nil, errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("create page failed: %v", err))
	}
	s.page = page

	return s, nil
}

// RouteDownloads points browser-triggered downloads at the given
// directory so click-based saves land next to directly fetched files
func (s *Session) RouteDownloads(dir string) error {
	err := proto.BrowserSetDownloadBehavior{
		Behavior:         proto.BrowserSetDownloadBehaviorBehaviorAllow,
		BrowserContextID: s.browser.BrowserContextID,
		DownloadPath:     dir,
	}.Call(s.browser)
	if err != nil {
		return errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("set download directory: %v", err))
	}
	return nil
}

// Open navigates to the share URL, dismisses a consent dialog if one
// appears, and waits for the page to settle
func (s *Session) Open(ctx context.Context, pageURL string) error {
	if err := s.page.Context(ctx).Navigate(pageURL); err != nil {
		return errs.New(errs.ErrorTypeNavigation, fmt.Sprintf("navigate %s: %v", pageURL, err))
	}
	if err := s.page.Context(ctx).WaitLoad(); err != nil {
		s.log.WithError(err).WithField("url", pageURL).Warn("wait load timed out")
	}

	s.dismissConsent(ctx)

	return s.settle(ctx)
}

// dismissConsent attempts a single consent-dialog dismissal. Absence of
// the dialog is not an error.
func (s *Session) dismissConsent(ctx context.Context) {
	if s.cfg.ConsentSelector == "" {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	el, err := s.page.Context(probeCtx).Element(s.cfg.ConsentSelector)
	if err != nil {
		s.log.Debug("no consent dialog found")
		return
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		s.log.WithError(err).Warn("failed to dismiss consent dialog")
		return
	}
	s.log.Debug("consent dialog dismissed")
}

// Back navigates to the parent view
func (s *Session) Back(ctx context.Context) error {
	if err := s.page.Context(ctx).NavigateBack(); err != nil {
		return errs.New(errs.ErrorTypeNavigation, fmt.Sprintf("navigate back: %v", err))
	}
	if err := s.page.Context(ctx).WaitLoad(); err != nil {
		s.log.WithError(err).Warn("wait load timed out after back navigation")
	}
	return s.settle(ctx)
}

// Entries returns the display names of the current folder view in DOM
// order. If the list selector does not appear within the configured
// timeout the folder is treated as empty and no error is returned.
func (s *Session) Entries(ctx context.Context) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.SelectorTimeout)
	defer cancel()

	if _, err := s.page.Context(listCtx).Element(s.cfg.ListSelector); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.WithField("selector", s.cfg.ListSelector).Debug("item list did not appear, treating folder as empty")
		return nil, nil
	}

	els, err := s.page.Context(ctx).Elements(s.cfg.ListSelector)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("query entries: %v", err))
	}

	names := make([]string, 0, len(els))
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			continue
		}
		if name := strings.TrimSpace(text); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// OpenEntry locates an entry by its display name among the current list
// items and clicks it. Entries are re-resolved by name on every call, so
// a navigate-away/navigate-back cycle cannot invalidate the reference.
func (s *Session) OpenEntry(ctx context.Context, name string) error {
	els, err := s.page.Context(ctx).Elements(s.cfg.ListSelector)
	if err != nil {
		return errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("query entries: %v", err))
	}

	for _, el := range els {
		text, err := el.Text()
		if err != nil || strings.TrimSpace(text) != name {
			continue
		}
		if err := el.ScrollIntoView(); err != nil {
			s.log.WithError(err).Debug("scroll into view failed")
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("click entry %q: %v", name, err))
		}
		if err := s.page.Context(ctx).WaitLoad(); err != nil {
			s.log.WithError(err).Debug("wait load timed out after entry click")
		}
		return s.settle(ctx)
	}

	return errs.New(errs.ErrorTypeNotFound, fmt.Sprintf("entry %q not found in current view", name))
}

// DirectURL inspects the current page for a directly dereferenceable
// download URL: the download button's href, then a video element's
// source. Relative URLs are resolved against the page URL.
func (s *Session) DirectURL(ctx context.Context) (string, bool) {
	if raw := s.attributeOf(ctx, s.cfg.ButtonSelector, "href"); raw != "" {
		return s.resolveURL(raw), true
	}

	if raw := s.videoSource(ctx); raw != "" {
		return s.resolveURL(raw), true
	}

	return "", false
}

// videoSource reads the video element's src, falling back to a nested
// <source> child.
func (s *Session) videoSource(ctx context.Context) string {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	video, err := s.page.Context(probeCtx).Element(s.cfg.VideoSelector)
	if err != nil {
		return ""
	}

	if src, err := video.Attribute("src"); err == nil && src != nil && *src != "" {
		return *src
	}

	source, err := video.Element("source")
	if err != nil {
		return ""
	}
	if src, err := source.Attribute("src"); err == nil && src != nil && *src != "" {
		return *src
	}
	return ""
}

// attributeOf returns the attribute of the first element matching the
// selector, or "" when the element or attribute is missing.
func (s *Session) attributeOf(ctx context.Context, selector, attr string) string {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	el, err := s.page.Context(probeCtx).Element(selector)
	if err != nil {
		return ""
	}
	val, err := el.Attribute(attr)
	if err != nil || val == nil {
		return ""
	}
	return *val
}

// resolveURL resolves a possibly relative URL against the current page
func (s *Session) resolveURL(raw string) string {
	info, err := s.page.Info()
	if err != nil || info.URL == "" {
		return raw
	}
	base, err := url.Parse(info.URL)
	if err != nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// ClickDownload simulates a user click on the download control, falling
// back to the video element when no control exists
func (s *Session) ClickDownload(ctx context.Context) error {
	for _, selector := range []string{s.cfg.ButtonSelector, s.cfg.VideoSelector} {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		el, err := s.page.Context(probeCtx).Element(selector)
		cancel()
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return errs.New(errs.ErrorTypeBrowser, fmt.Sprintf("click download control: %v", err))
		}
		return nil
	}
	return errs.New(errs.ErrorTypeNotFound, "no download control or video element on page")
}

// settle waits the configured delay for the view to stabilize
func (s *Session) settle(ctx context.Context) error {
	return retry.Wait(ctx, s.cfg.SettleDelay)
}

// Close shuts down the page and the browser
func (s *Session) Close() error {
	s.cleanup()
	return nil
}

func (s *Session) cleanup() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.log.WithError(err).Debug("page close failed")
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.log.WithError(err).Debug("browser close failed")
		}
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}
