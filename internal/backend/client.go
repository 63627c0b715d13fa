// Package backend is the HTTP client for the storefront REST API, the
// authority for carts, orders, discount codes and shipping fees.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fjod/go_cart/storefront/internal/apperr"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/retry"
)

const maxBodyBytes = 4 << 20

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() (string, error)
}

type Options struct {
	BaseURL     string
	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
	MaxFailures uint32
	OpenTimeout time.Duration
	ReadPolicy  retry.Policy
	Transport   http.RoundTripper
	Logger      *zap.Logger
}

type Client struct {
	baseURL    *url.URL
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*response]
	tokens     TokenSource
	readPolicy retry.Policy
	log        *zap.Logger
}

type response struct {
	status int
	body   []byte
}

type authMode int

const (
	authNone authMode = iota
	authOptional
	authRequired
)

type request struct {
	op      string
	method  string
	path    string
	query   url.Values
	body    any
	auth    authMode
	lineOp  bool
	idemKey string
}

func New(opts Options, tokens TokenSource) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	log := logger.OrNop(opts.Logger)

	c := &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		tokens:     tokens,
		readPolicy: opts.ReadPolicy,
		log:        log,
	}

	maxFailures := opts.MaxFailures
	c.breaker = gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:    "storefront-backend",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return !retry.DefaultRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// BaseURL is the configured API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// read performs an idempotent call under the read retry policy.
func (c *Client) read(ctx context.Context, req request, out any) error {
	return retry.Do(ctx, c.readPolicy, func(ctx context.Context) error {
		return c.do(ctx, req, out)
	})
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	var token string
	if req.auth != authNone && c.tokens != nil {
		t, err := c.tokens.Token()
		if err != nil && req.auth == authRequired {
			return err
		}
		token = t
	}
	if req.auth == authRequired && token == "" {
		return apperr.New(apperr.KindUnauthenticated, req.op, "login required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.KindNetworkError, req.op, err)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.send(ctx, req, token)
	})
	log := logger.WithContext(ctx, c.log).With(
		zap.String("op", req.op),
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Duration("duration", time.Since(start)),
	)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		log.Warn("backend call rejected by circuit breaker")
		e := apperr.Wrap(apperr.KindServerError, req.op, err)
		e.Message = "backend temporarily unavailable"
		return e
	}
	if err != nil {
		log.Warn("backend call failed", zap.Error(err))
		return err
	}
	log.Debug("backend call", zap.Int("status", resp.status))

	if resp.status < 200 || resp.status >= 300 {
		return classify(req, resp)
	}
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return apperr.Wrap(apperr.KindUnknown, req.op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// send performs one HTTP round trip. 5xx answers are returned as errors so
// that the breaker counts them.
func (c *Client) send(ctx context.Context, req request, token string) (*response, error) {
	u := c.baseURL.JoinPath(req.path)
	if req.query != nil {
		u.RawQuery = req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, req.op, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnknown, req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.idemKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idemKey)
	}
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, req.op, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, req.op, err)
	}
	resp := &response{status: httpResp.StatusCode, body: data}
	if resp.status >= 500 {
		if e := classify(req, resp); e.Kind == apperr.KindServerError {
			return resp, e
		}
	}
	return resp, nil
}

// classify maps a non-2xx answer onto an error kind. Deleting lines that
// an order still references fails with a foreign key message, which is a
// conflict rather than a server or input failure.
func classify(req request, resp *response) *apperr.Error {
	e := apperr.FromStatus(req.op, resp.status, resp.body, req.lineOp)
	if req.method != http.MethodDelete {
		return e
	}
	switch e.Kind {
	case apperr.KindUnauthenticated, apperr.KindNotFound, apperr.KindForbidden:
		return e
	}
	text := string(resp.body)
	if strings.Contains(text, "REFERENCE constraint") || strings.Contains(text, "Orders") {
		e.Kind = apperr.KindConflict
		e.Message = "item is linked to an existing order"
	}
	return e
}
