// Package transport is the HTTP client shared by every handshake step. It
// keeps a cookie jar across steps, never follows redirects on its own and
// bounds every call with a per-step timeout.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultStepTimeout = 20 * time.Second
	DefaultMaxBodySize = 2 << 20
	DefaultUserAgent   = "go-auth-client/1.0"
)

// Request describes one handshake call. At most one of Form and JSON is set.
type Request struct {
	Method string
	URL    string
	Form   url.Values
	JSON   any
	// Bearer is sent as an Authorization header when non-empty.
	Bearer string
	Header http.Header
}

// Response is a fully read, size-limited response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// URL is the URL that produced this response.
	URL *url.URL
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool { return r.Status >= 200 && r.Status < 300 }

// IsRedirect reports a 3xx status.
func (r *Response) IsRedirect() bool { return r.Status >= 300 && r.Status < 400 }

// IsUnauthorized reports 401 or 403.
func (r *Response) IsUnauthorized() bool {
	return r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden
}

// Client is safe for concurrent use.
type Client struct {
	stepTimeout time.Duration
	userAgent   string
	maxBodySize int64
	transport   http.RoundTripper

	mu   sync.RWMutex
	jar  http.CookieJar
	http *http.Client
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

func WithStepTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.stepTimeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithRoundTripper replaces the underlying transport (primarily for testing)
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// New creates a Client with an empty cookie jar.
func New(options ...Option) (*Client, error) {
	c := &Client{
		stepTimeout: DefaultStepTimeout,
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
		transport:   http.DefaultTransport,
	}
	for _, opt := range options {
		opt(c)
	}
	if err := c.ResetCookies(); err != nil {
		return nil, err
	}
	return c, nil
}

// ResetCookies discards every stored cookie.
func (c *Client) ResetCookies() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return errors.Wrap(err, "[transport.ResetCookies] cookiejar.New")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jar = jar
	c.http = &http.Client{
		Transport: c.transport,
		Jar:       jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return nil
}

// Cookies returns the cookies the jar would send to rawURL.
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jar.Cookies(u)
}

// Do performs req within the step timeout. Any HTTP status is returned as a
// Response; only transport failures produce an error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, errors.Wrap(err, "[transport.Do] marshal body")
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "[transport.Do] build %s request", method)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Bearer)
	}

	c.mu.RLock()
	hc := c.http
	c.mu.RUnlock()

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, err
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   raw,
		URL:    resp.Request.URL,
	}, nil
}
