// Package fdsn talks to FDSN web services (dataselect, station, event)
// and to IRIS-style traveltime services. A Client implements the
// collaborator interfaces the acquisition engine calls out to.
package fdsn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/runnerr0/seedvault/internal/failure"
)

// timeLayout is the FDSN query time format.
const timeLayout = "2006-01-02T15:04:05.000000"

// Options configure a Client. Zero values select the defaults.
type Options struct {
	// Timeout bounds a single HTTP round trip including the body.
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests. 0 disables pacing.
	RequestsPerSecond float64
	// CacheTTL keeps search responses in memory. 0 disables the cache.
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	UserAgent  string
}

// Client is one FDSN service endpoint.
type Client struct {
	base    string
	hc      *http.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	ttl     time.Duration
	agent   string
	log     *zap.Logger
}

// New returns a client for the service rooted at baseURL, for example
// https://service.iris.edu.
func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 8,
			},
		}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = "seedvault"
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		hc:      hc,
		limiter: rate.NewLimiter(limit, 1),
		ttl:     opts.CacheTTL,
		agent:   agent,
		log:     log.With(zap.String("service", baseURL)),
	}
	if c.ttl > 0 {
		c.cache = cache.New(c.ttl, 2*c.ttl)
	}
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.base }

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// get issues a GET for path with query q. Successful bodies are cached
// when the client has a cache. A 204 reply returns a nil body.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.base + path + "?" + q.Encode()
	if c.cache != nil {
		if v, ok := c.cache.Get(u); ok {
			return v.([]byte), nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, failure.Wrapf(err, failure.Config, "building request")
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(u, body, c.ttl)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, failure.Wrapf(err, failure.Config, "building request")
	}
	req.Header.Set("Content-Type", "text/plain")
	return c.do(req)
}

// do paces, sends and classifies one request.
func (c *Client) do(req *http.Request) ([]byte, error) {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Wrapf(err, failure.Transient, "waiting for rate limiter")
	}
	req.Header.Set("User-Agent", c.agent)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Wrapf(err, failure.Transient, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		c.log.Debug("no content", zap.String("path", req.URL.Path), zap.Duration("elapsed", time.Since(start)))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, statusError(req, resp.StatusCode, msg)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Wrapf(err, failure.Transient, "reading %s response", req.URL.Path)
	}
	c.log.Debug("response",
		zap.String("path", req.URL.Path),
		zap.String("size", humanize.Bytes(uint64(len(body)))),
		zap.Duration("elapsed", time.Since(start)))
	return body, nil
}

// StatusError is a non-success HTTP reply.
type StatusError struct {
	Code    int
	Method  string
	Path    string
	Message string
}

func (e *StatusError) Error() string {
	s := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

func statusError(req *http.Request, code int, msg []byte) error {
	err := &StatusError{
		Code:    code,
		Method:  req.Method,
		Path:    req.URL.Path,
		Message: firstLine(string(msg)),
	}
	return failure.Mark(errors.WithStack(err), statusKind(code))
}

// statusKind: throttling and server errors are worth retrying, every other
// rejection repeats on retry.
func statusKind(code int) failure.Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return failure.Transient
	case code >= 500:
		return failure.Transient
	default:
		return failure.Permanent
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
