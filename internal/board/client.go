package board

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/RazorBackRoar/4Charm/internal/config"
	"github.com/RazorBackRoar/4Charm/internal/rate"
)

// maxRedirects caps redirect chains before the redirects category applies.
const maxRedirects = 10

// Post is one post record from the thread JSON. Tim and Ext together
// identify an attached media file on the CDN.
type Post struct {
	No       int64  `json:"no"`
	Sub      string `json:"sub"`
	Com      string `json:"com"`
	Tim      int64  `json:"tim"`
	Ext      string `json:"ext"`
	Filename string `json:"filename"`
	Fsize    int64  `json:"fsize"`
}

// HasMedia reports whether the post carries an attached file.
func (p *Post) HasMedia() bool {
	return p.Tim != 0 && p.Ext != ""
}

// Thread is a fetched thread: its full post list and the title derived from
// the opening post.
type Thread struct {
	Posts []Post
	Title string
}

type threadResponse struct {
	Posts []Post `json:"posts"`
}

// CatalogThread is the per-thread summary inside a catalog page.
type CatalogThread struct {
	No int64 `json:"no"`
}

// CatalogPage is one page of the board catalog.
type CatalogPage struct {
	Page    int             `json:"page"`
	Threads []CatalogThread `json:"threads"`
}

// Client fetches thread and catalog listings from the JSON API. Every call
// consults the shared rate controller before going out and reports the
// outcome back afterwards.
type Client struct {
	http    *http.Client
	cfg     *config.Config
	limiter *rate.Controller
}

// NewClient creates an API client using the configured timeout, user agent
// and rate controller.
func NewClient(cfg *config.Config, limiter *rate.Controller) *Client {
	return &Client{
		http: &http.Client{
			Timeout: cfg.General.APITimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		cfg:     cfg,
		limiter: limiter,
	}
}

// SetRequestHeaders applies the fixed header set sent on every remote call.
func SetRequestHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/html, */*")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("DNT", "1")
	req.Header.Set("Pragma", "no-cache")
}

// FetchThread fetches the thread JSON for board/id and derives the thread
// title from the opening post. A rate-limited response is retried exactly
// once after the configured cooldown; any other failure returns the
// classified error with no data.
func (c *Client) FetchThread(ctx context.Context, boardName, threadID string) (*Thread, error) {
	apiURL := fmt.Sprintf("%s/%s/thread/%s.json", c.cfg.Remote.APIBase, boardName, threadID)

	var resp threadResponse
	if err := c.getJSON(ctx, apiURL, &resp); err != nil {
		return nil, err
	}

	return &Thread{
		Posts: resp.Posts,
		Title: deriveTitle(resp.Posts),
	}, nil
}

// FetchCatalog fetches the catalog JSON for a board: a list of pages, each
// holding thread summaries. Same retry semantics as FetchThread.
func (c *Client) FetchCatalog(ctx context.Context, boardName string) ([]CatalogPage, error) {
	apiURL := fmt.Sprintf("%s/%s/catalog.json", c.cfg.Remote.APIBase, boardName)

	var pages []CatalogPage
	if err := c.getJSON(ctx, apiURL, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// getJSON performs one rate-paced GET with the single rate-limit retry.
func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqErr := c.fetchInto(ctx, rawURL, v)
	if reqErr == nil {
		c.limiter.Success()
		return nil
	}

	if reqErr.Category == CategoryRateLimited {
		// Stronger penalty, then exactly one retry after the cooldown.
		if err := c.limiter.RateLimited(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, c.cfg.Limits.RateLimitCooldown); err != nil {
			return err
		}
		if retryErr := c.fetchInto(ctx, rawURL, v); retryErr == nil {
			c.limiter.Success()
			return nil
		}
		return reqErr
	}

	c.limiter.Failure()
	return reqErr
}

// fetchInto performs a single GET and decodes the JSON body, classifying
// any failure at this boundary.
func (c *Client) fetchInto(ctx context.Context, rawURL string, v any) *RequestError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Classify(rawURL, 0, err)
	}
	SetRequestHeaders(req, c.cfg.General.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(rawURL, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Classify(rawURL, resp.StatusCode, nil)
	}

	// Accept-Encoding is set explicitly, so the transport does not
	// decompress for us.
	body := io.Reader(resp.Body)
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return &RequestError{Category: CategoryUnknown, URL: rawURL, Err: err}
		}
		defer gz.Close()
		body = gz
	case "deflate":
		fr := flate.NewReader(resp.Body)
		defer fr.Close()
		body = fr
	}

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return &RequestError{Category: CategoryUnknown, URL: rawURL, Err: err}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
