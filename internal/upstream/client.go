// Package upstream is the HTTP client for Misskey-family remote servers:
// one typed method per API surface, size-capped response reads, and a
// uniform error shape for non-2xx responses.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/hitalin/notedeck/internal/errs"
)

const maxResponseBytes = 50 << 20

// Client is the shared HTTP client used for every call to every remote
// server. One instance is created in main and threaded through to every
// component that speaks to a Misskey-family host.
type Client struct {
	http      *http.Client
	userAgent string

	requestsPerSecond float64
	limiterMu         sync.Mutex
	limiters          map[string]*rate.Limiter
}

// Config parameterizes the client's timeouts; zero values fall back to
// the defaults used by the production build, except RequestsPerSecond,
// where zero disables per-host throttling.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	ConnectTimeout    time.Duration
	MaxIdlePerHost    int
	RequestsPerSecond float64
}

func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "notedeck/0.1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxIdlePerHost == 0 {
		cfg.MaxIdlePerHost = 4
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: cfg.MaxIdlePerHost,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		userAgent:         cfg.UserAgent,
		requestsPerSecond: cfg.RequestsPerSecond,
		limiters:          make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the per-host token bucket for host, creating it on
// first use. Disabled (returns nil) when no rate was configured.
func (c *Client) limiterFor(host string) *rate.Limiter {
	if c.requestsPerSecond <= 0 {
		return nil
	}
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.requestsPerSecond), 1)
		c.limiters[host] = l
	}
	return l
}

// SetHTTPClientForTesting overrides the client's transport. Exported only
// so tests in other packages can point a Client at an httptest server;
// production wiring always goes through New.
func (c *Client) SetHTTPClientForTesting(h *http.Client) {
	c.http = h
}

// request POSTs params (with the auth token injected as "i") to
// https://{host}/api/{endpoint} and returns the decoded JSON body. A
// non-2xx response is parsed for /error/message or /error/code and
// folded into an *errs.Error of kind API.
func (c *Client) request(ctx context.Context, host, token, endpoint string, params map[string]interface{}) (json.RawMessage, error) {
	if l := c.limiterFor(host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, errs.Network(err)
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if token != "" {
		params["i"] = token
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, errs.JSON(err)
	}

	url := fmt.Sprintf("https://%s/api/%s", host, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Network(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.apiError(resp, endpoint)
	}

	text, err := readBodyLimited(resp, endpoint)
	if err != nil {
		return nil, err
	}
	if len(text) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(text), nil
}

// jsonBody marshals v into a request body reader; callers own any
// resulting marshal error being impossible for the literal maps used at
// call sites, so this panics only on a programmer error, never on
// network input.
func jsonBody(v interface{}) *bytes.Reader {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("jsonBody: %v", err))
	}
	return bytes.NewReader(b)
}

func (c *Client) apiError(resp *http.Response, endpoint string) error {
	status := resp.StatusCode
	var detail string
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes)); err == nil {
		var body struct {
			Error struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &body) == nil {
			if body.Error.Message != "" {
				detail = body.Error.Message
			} else if body.Error.Code != "" {
				detail = body.Error.Code
			}
		}
	}

	message := fmt.Sprintf("%s (%d)", endpoint, status)
	if detail != "" {
		message = fmt.Sprintf("%s: %s", endpoint, detail)
	}
	return errs.API(endpoint, status, message)
}

// readBodyLimited enforces the response-size cap on both the declared
// Content-Length and the actual bytes read, and validates the body as
// UTF-8.
func readBodyLimited(resp *http.Response, endpoint string) ([]byte, error) {
	if resp.ContentLength > maxResponseBytes {
		return nil, errs.API(endpoint, 0, "response too large")
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.Network(err)
	}
	if len(data) > maxResponseBytes {
		return nil, errs.API(endpoint, 0, "response too large")
	}
	if !utf8.Valid(data) {
		return nil, errs.API(endpoint, 0, "invalid UTF-8 in response")
	}
	return data, nil
}
