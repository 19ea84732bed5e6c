package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharecrawl/pkg/config"
	"sharecrawl/pkg/logger"
	"sharecrawl/pkg/storage"
)

// fakeProbe is a scriptable PageProbe
type fakeProbe struct {
	url        string
	hasURL     bool
	clickErr   error
	onClick    func()
	clickCalls int32
	routedDir  string
}

func (f *fakeProbe) DirectURL(ctx context.Context) (string, bool) {
	return f.url, f.hasURL
}

func (f *fakeProbe) ClickDownload(ctx context.Context) error {
	atomic.AddInt32(&f.clickCalls, 1)
	if f.clickErr != nil {
		return f.clickErr
	}
	if f.onClick != nil {
		f.onClick()
	}
	return nil
}

func (f *fakeProbe) RouteDownloads(dir string) error {
	f.routedDir = dir
	return nil
}

func testDownloadConfig() config.DownloadConfig {
	cfg := config.DefaultConfig().Download
	cfg.DownloadTimeout = 2 * time.Second
	cfg.PollInterval = 10 * time.Millisecond
	cfg.MaxRetries = 1
	return cfg
}

func newTestDownloader(t *testing.T, probe *fakeProbe, cfg config.DownloadConfig) (*Downloader, *storage.Manager) {
	t.Helper()
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	return New(probe, store, cfg, logger.NewNopLogger()), store
}

func TestDirectFetchWritesExactBytes(t *testing.T) {
	content := bytes.Repeat([]byte("abc123"), 2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(content)
	}))
	defer server.Close()

	probe := &fakeProbe{url: server.URL, hasURL: true}
	d, store := newTestDownloader(t, probe, testDownloadConfig())

	res, err := d.Fetch(context.Background(), "video.mp4", "")
	require.NoError(t, err)

	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.False(t, res.Skipped)
	assert.Equal(t, int64(len(content)), res.Size)

	got, err := os.ReadFile(store.FullPath("video.mp4"))
	require.NoError(t, err)
	assert.Equal(t, content, got, "written bytes must equal the fetched response")

	assert.Zero(t, atomic.LoadInt32(&probe.clickCalls), "click path must not run when a URL was found")
}

func TestDirectFetchSkipsOversizedProbe(t *testing.T) {
	var getCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			atomic.AddInt32(&getCalls, 1)
		}
		w.Header().Set("Content-Length", strconv.FormatInt(200<<20, 10))
	}))
	defer server.Close()

	cfg := testDownloadConfig()
	cfg.MaxFileSize = 100 << 20

	probe := &fakeProbe{url: server.URL, hasURL: true}
	d, store := newTestDownloader(t, probe, cfg)

	res, err := d.Fetch(context.Background(), "huge.mp4", "")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.False(t, store.Exists("huge.mp4"), "nothing may be written for an oversized candidate")
	assert.Zero(t, atomic.LoadInt32(&getCalls), "content must never be requested after an oversized probe")
}

func TestDirectFetchSkipsOversizedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return // probe sees no useful size
		}
		w.Header().Set("Content-Length", strconv.FormatInt(200<<20, 10))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testDownloadConfig()
	cfg.MaxFileSize = 100 << 20

	probe := &fakeProbe{url: server.URL, hasURL: true}
	d, store := newTestDownloader(t, probe, cfg)

	res, err := d.Fetch(context.Background(), "huge.mp4", "")
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.False(t, store.Exists("huge.mp4"))
}

func TestDirectFetchFailureDoesNotFallBackToClick(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	probe := &fakeProbe{url: server.URL, hasURL: true}
	d, store := newTestDownloader(t, probe, testDownloadConfig())

	_, err := d.Fetch(context.Background(), "gone.mp4", "")
	require.Error(t, err)

	assert.Zero(t, atomic.LoadInt32(&probe.clickCalls),
		"a found-but-failing direct URL must not fall through to the click strategy")
	assert.False(t, store.Exists("gone.mp4"))
}

func TestClickFallbackDetectsDownload(t *testing.T) {
	content := []byte("click-download payload")
	probe := &fakeProbe{hasURL: false}
	d, store := newTestDownloader(t, probe, testDownloadConfig())

	// The browser drops the file under its own filename
	probe.onClick = func() {
		err := os.WriteFile(filepath.Join(store.BaseDir(), "browser-name.bin"), content, 0644)
		require.NoError(t, err)
	}

	res, err := d.Fetch(context.Background(), "My Video.mp4", "")
	require.NoError(t, err)

	assert.Equal(t, StrategyClick, res.Strategy)
	assert.Equal(t, "My_Video.mp4", res.Path)
	assert.Equal(t, int64(len(content)), res.Size)
	assert.Equal(t, store.BaseDir(), probe.routedDir)

	assert.True(t, store.Exists("My_Video.mp4"), "download must be renamed to the sanitized display name")
	assert.False(t, store.Exists("browser-name.bin"))
}

func TestClickWithoutControlFails(t *testing.T) {
	probe := &fakeProbe{hasURL: false, clickErr: assert.AnError}
	d, store := newTestDownloader(t, probe, testDownloadConfig())

	_, err := d.Fetch(context.Background(), "stuck.mp4", "")
	require.Error(t, err)

	entries, readErr := os.ReadDir(store.BaseDir())
	require.NoError(t, readErr)
	assert.Empty(t, entries, "no file may be written when no download control exists")
}

func TestClickTimeoutWhenNothingAppears(t *testing.T) {
	cfg := testDownloadConfig()
	cfg.DownloadTimeout = 100 * time.Millisecond

	probe := &fakeProbe{hasURL: false}
	d, _ := newTestDownloader(t, probe, cfg)

	start := time.Now()
	_, err := d.Fetch(context.Background(), "never.mp4", "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
