package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultMaxRedirects = 3
	DefaultTimeout      = 10 * time.Second

	// maxSnippet bounds the response body kept for logging.
	maxSnippet = 512
)

// Response is the final response of a delivery, after redirects.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
	URL        string
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// DeliveryError describes a failed delivery: either a transport error or a non-2xx status.
type DeliveryError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delivery to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("delivery to %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Client posts JSON payloads and follows redirects itself so that the method
// and body survive every hop.
type Client struct {
	http         *http.Client
	maxRedirects int
	log          *slog.Logger
}

type ClientConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	// Transport defaults to an otelhttp-instrumented http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}
	if cfg.Transport == nil {
		cfg.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxRedirects: cfg.MaxRedirects,
		log:          cfg.Logger,
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// PostJSON serializes payload once and POSTs it, re-POSTing the same body to
// each redirect Location up to the configured hop limit. A redirect without a
// Location, or the response after the last allowed hop, is returned as-is.
// Only transport failures are returned as errors.
func (c *Client) PostJSON(ctx context.Context, target string, payload any, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	current := target
	for hop := 0; ; hop++ {
		resp, err := c.post(ctx, current, body, headers)
		if err != nil {
			return nil, &DeliveryError{URL: current, Err: err}
		}
		if !isRedirect(resp.StatusCode) || hop >= c.maxRedirects {
			return resp, nil
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		next, err := resolve(current, loc)
		if err != nil {
			return resp, nil
		}
		c.log.Debug("following redirect", "from", current, "to", next, "status", resp.StatusCode)
		current = next
	}
}

func (c *Client) post(ctx context.Context, target string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxSnippet))
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(snippet),
		URL:        target,
	}, nil
}

func resolve(base, loc string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(l).String(), nil
}

// AsDeliveryError unwraps err into a *DeliveryError when possible.
func AsDeliveryError(err error) (*DeliveryError, bool) {
	var de *DeliveryError
	ok := errors.As(err, &de)
	return de, ok
}
