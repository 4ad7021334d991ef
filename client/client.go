// Package client reads rows from a running readaside service.
package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/agentuity/readaside/item"
	"github.com/agentuity/readaside/logger"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

const defaultAttempts = 3

var (
	// ErrNotFound is returned for a 404.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned for a 503 that outlived the retries.
	ErrUnavailable = errors.New("backend unavailable")
)

// Error describes a failed request.
type Error struct {
	URL     string
	Method  string
	Status  int
	Body    string
	Err     error
	TraceID string
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is one successful read.
type Response struct {
	// Item is set when the full row was requested.
	Item item.Item
	// Fields holds the raw projected columns.
	Fields map[string]json.RawMessage
	// Cache is the X-Cache header, HIT or MISS.
	Cache string
	ETag  string
}

type Client struct {
	baseURL  *url.URL
	client   *http.Client
	logger   logger.Logger
	attempts int
	backoff  time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithRetry sets the number of attempts and the first backoff. The backoff
// doubles after every attempt.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(cl *Client) {
		cl.attempts = attempts
		cl.backoff = backoff
	}
}

func New(baseURL string, log logger.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("base url %q needs a scheme and host", baseURL)
	}
	c := &Client{
		baseURL:  u,
		client:   http.DefaultClient,
		logger:   log.WithPrefix("[client]"),
		attempts: defaultAttempts,
		backoff:  150 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c, nil
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "readaside-client/" + Version + " (" + gitSHA + ")"
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
			return true
		} else if msg := err.Error(); strings.Contains(msg, "EOF") {
			return true
		}
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

// bodyPreview returns at most maxChars of a text body for logging. Other
// content types are reduced to their size and a hash.
func bodyPreview(body []byte, contentType string, maxChars int) string {
	ct := strings.ToLower(contentType)
	if contentType != "" && !strings.HasPrefix(ct, "text/") && !strings.Contains(ct, "json") {
		hash := sha256.Sum256(body)
		return fmt.Sprintf("<%s: %d bytes, sha256=%s>", ct, len(body), hex.EncodeToString(hash[:8]))
	}
	if len(body) > maxChars {
		return string(body[:maxChars]) + fmt.Sprintf("[truncated, total: %d bytes]", len(body))
	}
	return string(body)
}

// Get reads the row with the given id, optionally projected to fields.
// A missing row is an error marked ErrNotFound.
func (c *Client) Get(ctx context.Context, id uuid.UUID, fields ...string) (*Response, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/items/" + id.String()
	if len(fields) > 0 {
		u.RawQuery = url.Values{"fields": {strings.Join(fields, ",")}}.Encode()
	}

	resp, body, err := c.do(ctx, http.MethodGet, u.String())
	if err != nil {
		return nil, err
	}
	traceID := resp.Header.Get("traceparent")

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &Error{URL: u.String(), Method: http.MethodGet, Status: resp.StatusCode, Body: string(body), Err: ErrNotFound, TraceID: traceID}
	case http.StatusServiceUnavailable:
		return nil, &Error{URL: u.String(), Method: http.MethodGet, Status: resp.StatusCode, Body: string(body), Err: ErrUnavailable, TraceID: traceID}
	default:
		var eb struct {
			Error string `json:"error"`
		}
		msg := fmt.Sprintf("request failed with status (%s)", resp.Status)
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return nil, &Error{URL: u.String(), Method: http.MethodGet, Status: resp.StatusCode, Body: string(body), Err: errors.New(msg), TraceID: traceID}
	}

	out := &Response{Cache: resp.Header.Get("X-Cache"), ETag: resp.Header.Get("ETag")}
	if err := json.Unmarshal(body, &out.Fields); err != nil {
		return nil, &Error{URL: u.String(), Method: http.MethodGet, Status: resp.StatusCode, Body: string(body), Err: errors.Wrap(err, "error JSON decoding response"), TraceID: traceID}
	}
	if len(fields) == 0 {
		if err := json.Unmarshal(body, &out.Item); err != nil {
			return nil, &Error{URL: u.String(), Method: http.MethodGet, Status: resp.StatusCode, Body: string(body), Err: errors.Wrap(err, "error JSON decoding response"), TraceID: traceID}
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, target string) (*http.Response, []byte, error) {
	var resp *http.Response
	for i := range c.attempts {
		isLast := i == c.attempts-1

		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, nil, &Error{URL: target, Method: method, Err: errors.Wrap(err, "error creating request")}
		}
		req.Header.Set("User-Agent", UserAgent())
		req.Header.Set("Accept", "application/json")
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		c.logger.Trace("sending request: %s %s", method, target)
		resp, err = c.client.Do(req)
		if shouldRetry(resp, err) && !isLast {
			c.logger.Debug("retryable failure on attempt %d, retrying", i+1)
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			wait := time.Duration(float64(c.backoff) * math.Pow(2, float64(i)))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, err
			}
			return nil, nil, &Error{URL: target, Method: method, Err: errors.Wrap(err, "error sending request")}
		}
		break
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &Error{URL: target, Method: method, Status: resp.StatusCode, Err: errors.Wrap(err, "error reading response body")}
	}
	contentType := resp.Header.Get("Content-Type")
	c.logger.Debug("response %s: %s", resp.Status, bodyPreview(body, contentType, 200))
	return resp, body, nil
}
