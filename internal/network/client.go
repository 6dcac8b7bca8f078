// Package network performs the worker's outbound fetches: manifest
// provisioning during install and the pass-through fetch on a cache miss.
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
)

// Fetcher performs one outbound HTTP request. The caller closes the
// response body.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Client is the default Fetcher.
type Client struct {
	http      *http.Client
	userAgent string
}

// NewClient builds a Client from settings. A nil transport uses
// http.DefaultTransport.
func NewClient(settings conf.NetworkSettings, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   settings.Timeout.Std(),
			// Redirects are followed, like a browser fetch in "follow" mode.
		},
		userAgent: settings.UserAgent,
	}
}

// Fetch sends req and returns the response unmodified.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(fmt.Errorf("fetch %s %s: %w", req.Method, req.URL, err)).
			Component("network").
			Category(errors.CategoryNetwork).
			Context("url", req.URL.String()).
			Build()
	}
	return resp, nil
}

// Get fetches url with a plain GET.
func Get(ctx context.Context, f Fetcher, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("network").
			Category(errors.CategoryValidation).
			Context("url", url).
			Build()
	}
	return f.Fetch(ctx, req)
}

// OutboundRequest turns an intercepted server request into a client request
// for target. The body is streamed, not buffered.
func OutboundRequest(ctx context.Context, in *http.Request, target string) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if in.Body != nil && in.Body != http.NoBody {
		body = in.Body
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return nil, errors.New(err).
			Component("network").
			Category(errors.CategoryValidation).
			Context("url", target).
			Build()
	}
	out.Header = in.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	StripHopHeaders(out.Header)
	out.ContentLength = in.ContentLength
	return out, nil
}

// StripHopHeaders removes hop-by-hop headers, including those named in
// the Connection header.
func StripHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// IsSuccess reports whether status is 2xx, the browser's response.ok.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
