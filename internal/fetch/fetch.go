// Package fetch issues outbound GET requests with bounded retries on
// connection failures and timeouts only.
package fetch

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 2 * time.Second
	DefaultMaxInterval     = 10 * time.Second
	DefaultUserAgent       = "idea-sonar/1.0"

	maxBodyBytes = 4 << 20
)

type Kind string

const (
	// KindTransport is a connection failure or timeout. It is the only kind
	// that is retried.
	KindTransport Kind = "transport"
	KindRequest   Kind = "request"
	KindStatus    Kind = "status"
	KindParse     Kind = "parse"
	KindAPI       Kind = "api"
	KindNoResults Kind = "no_results"
)

type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the failure kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

type Config struct {
	HTTPClient      *http.Client
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	UserAgent       string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Client{cfg: cfg}
}

// Get performs one logical call. Each attempt gets its own timeout; only
// KindTransport failures are retried.
func (c *Client) Get(ctx context.Context, op, rawURL string, params url.Values, timeout time.Duration) ([]byte, error) {
	target := rawURL
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.MaxInterval

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		body, err := c.once(ctx, op, target, timeout, attempt)
		if err == nil {
			return body, nil
		}
		if KindOf(err) == KindTransport {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("idea-sonar fetch_retry op=%s attempt=%d next_in=%s err=%q", op, attempt, next, err.Error())
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if KindOf(err) == "" {
			// Caller cancellation while waiting between attempts.
			err = NewError(KindTransport, op, err)
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) once(ctx context.Context, op, target string, timeout time.Duration, attempt int) ([]byte, error) {
	ctx, span := otel.Tracer("idea-sonar/fetch").Start(ctx, "fetch.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("fetch.op", op), attribute.Int("fetch.attempt", attempt))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, NewError(KindRequest, op, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		kind := KindRequest
		if isTransient(err) {
			kind = KindTransport
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		return nil, NewError(kind, op, err)
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		kind := KindRequest
		if isTransient(err) {
			kind = KindTransport
		}
		return nil, NewError(kind, op, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		span.SetStatus(codes.Error, "status")
		return nil, &Error{Kind: KindStatus, Op: op, Status: res.StatusCode, Err: fmt.Errorf("body=%s", truncate(string(body), 200))}
	}
	return body, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func DecodeJSON(op string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(KindParse, op, err)
	}
	return nil
}

func DecodeXML(op string, body []byte, out any) error {
	if err := xml.Unmarshal(body, out); err != nil {
		return NewError(KindParse, op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
