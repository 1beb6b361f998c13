// Package apiclient is the authenticated HTTP capability shared by every
// resource fetcher: single-shot GETs, cursor-following pagination over JSON
// arrays, and streaming binary downloads.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

// DefaultUserAgent identifies the client on every request
const DefaultUserAgent = "github-backup"

// Limiter throttles outgoing requests and learns from responses
type Limiter interface {
	Wait(ctx context.Context) error
	UpdateFromResponse(resp *http.Response)
}

// Response is the result of a successful GET
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues API requests over one shared *http.Client
type Client struct {
	httpClient *http.Client
	cursor     CursorFunc
}

// Option configures a Client
type Option func(*Client)

// WithCursorFunc replaces how the next page is located
func WithCursorFunc(f CursorFunc) Option {
	return func(c *Client) {
		c.cursor = f
	}
}

// New creates a Client. The http client is used as is and must already
// attach credentials (see NewHTTPClient).
func New(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		cursor:     LinkHeaderCursor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransportConfig describes the authenticated transport
type TransportConfig struct {
	Token     string
	UserAgent string
	// APIURL scopes the credential: requests to any other host (such as
	// redirects of asset downloads to a storage CDN) are sent without it.
	APIURL  string
	Limiter Limiter
}

// NewHTTPClient builds the authenticated transport: a static bearer token,
// a User-Agent on every request and, when a limiter is set, request
// throttling with quota tracking.
func NewHTTPClient(ctx context.Context, cfg TransportConfig) (*http.Client, error) {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	var plain http.RoundTripper = &userAgentTransport{base: http.DefaultTransport, userAgent: userAgent}
	authBase := plain
	if cfg.Limiter != nil {
		authBase = &limitedTransport{base: plain, limiter: cfg.Limiter}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: authBase})
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)
	authed := oauth2.NewClient(ctx, ts).Transport

	if cfg.APIURL == "" {
		return &http.Client{Transport: authed}, nil
	}
	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", cfg.APIURL, err)
	}
	return &http.Client{Transport: &scopedTransport{host: u.Host, authed: authed, plain: plain}}, nil
}

// Get performs a single GET and returns the whole body.
// Non-2xx responses fail with an HTTP error carrying the status code.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	resp, err := c.do(ctx, url, "application/vnd.github+json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Pages lazily yields every page of a paginated JSON array, following the
// cursor until it is absent. Iteration stops at the first error, which is
// yielded with a nil page.
func (c *Client) Pages(ctx context.Context, url string) iter.Seq2[*domain.Page, error] {
	return func(yield func(*domain.Page, error) bool) {
		next := url
		for next != "" {
			resp, err := c.Get(ctx, next)
			if err != nil {
				yield(nil, err)
				return
			}

			var items []json.RawMessage
			if err := json.Unmarshal(resp.Body, &items); err != nil {
				yield(nil, apperrors.NewParseError(next, err))
				return
			}
			if items == nil {
				// "null" decodes without error but is not an array
				yield(nil, apperrors.NewParseError(next, fmt.Errorf("body is not a JSON array")))
				return
			}

			page := &domain.Page{
				URL:   next,
				Items: items,
				Next:  c.cursor(resp),
			}
			if !yield(page, nil) {
				return
			}
			next = page.Next
		}
	}
}

// FetchAll drains Pages into one ordered sequence
func (c *Client) FetchAll(ctx context.Context, url string) ([]json.RawMessage, error) {
	all := []json.RawMessage{}
	for page, err := range c.Pages(ctx, url) {
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
	}
	return all, nil
}

// Download streams a binary resource to dest, creating parent directories
func (c *Client) Download(ctx context.Context, url, dest string) error {
	resp, err := c.do(ctx, url, "application/octet-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return apperrors.NewIOError(dest, err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return apperrors.NewIOError(dest, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return apperrors.NewIOError(dest, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.NewIOError(dest, err)
	}
	return nil
}

// do sends a GET and rejects non-2xx statuses. The caller closes the body.
func (c *Client) do(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, apperrors.NewHTTPError(url, resp.StatusCode)
	}
	return resp, nil
}

type scopedTransport struct {
	host   string
	authed http.RoundTripper
	plain  http.RoundTripper
}

func (t *scopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host == t.host {
		return t.authed.RoundTrip(req)
	}
	return t.plain.RoundTrip(req)
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		t.limiter.UpdateFromResponse(resp)
	}
	return resp, err
}
