package board

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RazorBackRoar/4Charm/internal/config"
	"github.com/RazorBackRoar/4Charm/internal/rate"
)

func testConfig(apiBase string) *config.Config {
	cfg := config.Default()
	cfg.Remote.APIBase = apiBase
	cfg.Limits.BaseDelay = 0
	cfg.Limits.MaxDelay = 10 * time.Millisecond
	cfg.Limits.RateLimitCooldown = 10 * time.Millisecond
	return cfg
}

func newTestClient(apiBase string) *Client {
	cfg := testConfig(apiBase)
	limiter := rate.New(cfg.Limits.BaseDelay, cfg.Limits.MaxDelay, cfg.Limits.BackoffMultiplier)
	return NewClient(cfg, limiter)
}

func TestFetchThread_TitleFromSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wg/thread/123.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"posts":[{"no":123,"sub":"Mountain wallpapers","com":"ignored","tim":1700000000000,"ext":".jpg","filename":"alps"}]}`))
	}))
	defer srv.Close()

	thread, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "123")
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}
	if thread.Title != "Mountain wallpapers" {
		t.Errorf("Title = %q, want subject", thread.Title)
	}
	if len(thread.Posts) != 1 {
		t.Errorf("Posts = %d, want 1", len(thread.Posts))
	}
}

func TestFetchThread_TitleFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"posts":[{"no":1,"com":"First   line<br>with <b>markup</b> and a reasonably long tail that goes past the sixty character cutoff"}]}`))
	}))
	defer srv.Close()

	thread, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1")
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}

	want := "First line with markup and a reasonably long tail that goes"
	if thread.Title != want {
		t.Errorf("Title = %q, want %q", thread.Title, want)
	}
	if got := len([]rune(thread.Title)); got > 60 {
		t.Errorf("title length = %d runes, want <= 60", got)
	}
}

func TestFetchThread_NoTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"posts":[{"no":1,"tim":1700000000000,"ext":".png","filename":"x"}]}`))
	}))
	defer srv.Close()

	thread, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1")
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}
	if thread.Title != "" {
		t.Errorf("Title = %q, want empty", thread.Title)
	}
}

func TestFetchThread_RateLimitedRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"posts":[{"no":1,"sub":"ok"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Limits.BaseDelay = time.Millisecond
	limiter := rate.New(cfg.Limits.BaseDelay, cfg.Limits.MaxDelay, cfg.Limits.BackoffMultiplier)
	client := NewClient(cfg, limiter)

	thread, err := client.FetchThread(context.Background(), "wg", "1")
	if err != nil {
		t.Fatalf("FetchThread after rate-limit retry: %v", err)
	}
	if thread.Title != "ok" {
		t.Errorf("Title = %q", thread.Title)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", got)
	}

	// The retry's success is reported back: the doubled penalty (2ms) has
	// started decaying again
	if d := limiter.Delay(); d >= 2*time.Millisecond {
		t.Errorf("delay = %v after successful retry, want decayed below 2ms", d)
	}
}

func TestFetchThread_RateLimitedTwiceGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1")
	if err == nil {
		t.Fatal("FetchThread = nil error, want failure")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want exactly 2 (single retry)", got)
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Category != CategoryRateLimited {
		t.Errorf("error = %v, want rate_limited RequestError", err)
	}
}

func TestFetchThread_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if reqErr.Category != CategoryAccess || reqErr.StatusCode != 404 {
		t.Errorf("classification = %s/%d, want access/404", reqErr.Category, reqErr.StatusCode)
	}
}

func TestFetchThread_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // Close immediately so the port refuses connections

	_, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error = %v, want RequestError", err)
	}
	if reqErr.Category != CategoryConnection && reqErr.Category != CategoryUnknown {
		t.Errorf("Category = %s, want connection-flavored", reqErr.Category)
	}
}

func TestFetchThread_FailureGrowsDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Limits.BaseDelay = time.Millisecond
	limiter := rate.New(cfg.Limits.BaseDelay, cfg.Limits.MaxDelay, cfg.Limits.BackoffMultiplier)
	client := NewClient(cfg, limiter)

	before := limiter.Delay()
	if _, err := client.FetchThread(context.Background(), "wg", "1"); err == nil {
		t.Fatal("expected error")
	}
	if limiter.Delay() <= before {
		t.Errorf("delay = %v after failure, want grown from %v", limiter.Delay(), before)
	}
}

func TestFetchThread_GzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(`{"posts":[{"no":1,"sub":"compressed"}]}`))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	thread, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1")
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}
	if thread.Title != "compressed" {
		t.Errorf("Title = %q, want decoded subject", thread.Title)
	}
}

func TestFetchThread_DeflateResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
		fw.Write([]byte(`{"posts":[{"no":1,"sub":"compressed"}]}`))
		fw.Close()
		w.Header().Set("Content-Encoding", "deflate")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	thread, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1")
	if err != nil {
		t.Fatalf("FetchThread: %v", err)
	}
	if thread.Title != "compressed" {
		t.Errorf("Title = %q, want decoded subject", thread.Title)
	}
}

func TestFetchCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wg/catalog.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`[{"page":1,"threads":[{"no":100},{"no":200}]},{"page":2,"threads":[{"no":300}]}]`))
	}))
	defer srv.Close()

	pages, err := newTestClient(srv.URL).FetchCatalog(context.Background(), "wg")
	if err != nil {
		t.Fatalf("FetchCatalog: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if len(pages[0].Threads) != 2 || pages[0].Threads[0].No != 100 {
		t.Errorf("first page = %+v", pages[0])
	}
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"posts":[]}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchThread(context.Background(), "wg", "1"); err != nil {
		t.Fatalf("FetchThread: %v", err)
	}

	if got.Get("User-Agent") == "" {
		t.Error("User-Agent not set")
	}
	if got.Get("Accept") != "application/json, text/html, */*" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
	if got.Get("DNT") != "1" {
		t.Errorf("DNT = %q", got.Get("DNT"))
	}
}
