// Package chatwire is a rate-limit-aware REST client for the Chatwire API.
// Every request is scheduled through per-route-family buckets that honor
// the server's reported limits: requests to one bucket dispatch strictly in
// order, a bucket whose remaining quota is exhausted waits out its reset,
// and a server-reported global limit pauses all dispatch. Transient
// failures (429, 5xx) are retried transparently within the request's
// timeout budget.
package chatwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chatwire/chatwire-go/internal/callsite"
	"github.com/chatwire/chatwire-go/internal/httpx"
	"github.com/chatwire/chatwire-go/internal/logging"
	"github.com/chatwire/chatwire-go/internal/ratelimit"
	"github.com/chatwire/chatwire-go/internal/version"
)

// TokenKind selects the Authorization header prefix for the configured
// token.
type TokenKind string

const (
	// TokenBot authenticates as an application bot account.
	TokenBot TokenKind = "Bot"

	// TokenBearer authenticates with an OAuth2 bearer token.
	TokenBearer TokenKind = "Bearer"
)

func (k TokenKind) prefix() string {
	if k == "" {
		return string(TokenBot) + " "
	}
	return string(k) + " "
}

// Defaults applied by New for zero-value config fields.
const (
	DefaultHost    = "chatwire.com"
	DefaultPort    = 443
	DefaultVersion = 7
)

// Config carries client construction options. The zero value talks to the
// production API anonymously with unbounded request timeouts.
type Config struct {
	// Token authenticates requests that set RequestOptions.Auth.
	Token string

	// TokenKind defaults to TokenBot.
	TokenKind TokenKind

	// Host and Port select the API endpoint. Port 443 implies https.
	Host string
	Port int

	// Version is the API version used in the wire path prefix. Zero means
	// DefaultVersion; a negative value falls back to DefaultVersion with a
	// one-time advisory per distinct offending value.
	Version int

	// UserAgentSuffix is appended to the product User-Agent.
	UserAgentSuffix string

	// HTTPClient overrides the transport for all dispatches. When nil, a
	// pooled transport with connection-level retries is built.
	HTTPClient *http.Client

	// Timeout is the default per-request budget. Zero means unbounded.
	Timeout time.Duration

	// Pacer, when set, is awaited before every dispatch: a client-side
	// ceiling for staying safely under a limit the server has not yet
	// reported. Buckets still enforce what the server does report.
	Pacer *rate.Limiter

	// Logger overrides the default stderr console logger (warn level).
	Logger *zerolog.Logger
}

// Client issues requests against the API. All methods are safe for
// concurrent use; the underlying transport and its connection pool are
// shared by every dispatch.
type Client struct {
	cfg       Config
	tokenKind TokenKind
	version   int
	baseURL   string
	userAgent string
	log       zerolog.Logger
	limiter   *ratelimit.Manager
	pacer     *rate.Limiter

	// httpBuffered wraps the transport with connection-level retries; it
	// requires replayable request bodies, so streaming-body requests go
	// through httpStream instead.
	httpBuffered *http.Client
	httpStream   *http.Client
}

// advisedVersions tracks invalid Version values already warned about, so
// the advisory fires once per distinct offending configuration process-wide
// rather than once per request.
var advisedVersions sync.Map

// New creates a client. It never fails: invalid config fields fall back to
// defaults, with an advisory log for a bad API version.
func New(cfg Config) *Client {
	log := logging.Default()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	ver := cfg.Version
	if ver < 0 {
		if _, seen := advisedVersions.LoadOrStore(ver, struct{}{}); !seen {
			log.Warn().
				Int("version", ver).
				Int("default", DefaultVersion).
				Msg("invalid API version in config, using default")
		}
		ver = 0
	}
	if ver == 0 {
		ver = DefaultVersion
	}

	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	scheme := "http"
	if port == 443 {
		scheme = "https"
	}

	ua := fmt.Sprintf("ChatwireBot (https://github.com/chatwire/chatwire-go, %s)", version.Version)
	if cfg.UserAgentSuffix != "" {
		ua += " " + cfg.UserAgentSuffix
	}

	c := &Client{
		cfg:       cfg,
		tokenKind: cfg.TokenKind,
		version:   ver,
		baseURL:   fmt.Sprintf("%s://%s:%d", scheme, host, port),
		userAgent: ua,
		log:       log,
		limiter:   ratelimit.New(log),
		pacer:     cfg.Pacer,
	}

	if cfg.HTTPClient != nil {
		c.httpBuffered = cfg.HTTPClient
		c.httpStream = cfg.HTTPClient
	} else {
		base := httpx.NewClient()
		c.httpBuffered = httpx.NewRetryingClient(base, log)
		c.httpStream = base
	}

	return c
}

type attemptResult struct {
	res *Result
	err error
}

// bodyWithCancel releases the attempt's context when the caller closes a
// streaming response body. The stream itself is never killed by the
// request timer; the context only has to outlive the body.
type bodyWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *bodyWithCancel) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Request prepares, schedules, and awaits one API call. The route is the
// unprefixed path (e.g. "/channels/123/messages"); the version prefix and
// query string are applied internally. The result resolves exactly once:
// parsed JSON, raw bytes, or a live stream per options and response
// content type.
func (c *Client) Request(ctx context.Context, method, route string, opts *RequestOptions) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pr, err := c.prepare(method, route, opts)
	if err != nil {
		return nil, err
	}
	pr.origin = callsite.Capture(1)

	var deadline time.Time
	if pr.timeout > 0 {
		deadline = time.Now().Add(pr.timeout)
	}

	log := c.log.With().
		Str("req_id", uuid.NewString()).
		Str("method", method).
		Str("route", route).
		Logger()

	// Buffered so a late completion after caller cancellation never
	// blocks the drain loop.
	out := make(chan attemptResult, 1)
	c.limiter.Enqueue(pr.bucketKey, &ratelimit.Job{
		Do: func() bool {
			return c.attempt(ctx, pr, deadline, log, out)
		},
	})

	select {
	case r := <-out:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// attempt performs one dispatch of a scheduled request. It delivers to out
// exactly once across all attempts: a true return means no delivery
// happened and the scheduler must requeue the same job.
func (c *Client) attempt(ctx context.Context, pr *preparedRequest, deadline time.Time, log zerolog.Logger, out chan<- attemptResult) (retry bool) {
	if err := ctx.Err(); err != nil {
		out <- attemptResult{err: err}
		return false
	}

	// The budget may have been consumed while queued or by earlier
	// transient attempts; exhaustion surfaces as a timeout.
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		out <- attemptResult{err: &TimeoutError{Method: pr.method, Path: pr.path, Budget: pr.timeout}}
		return false
	}

	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	var headerTimer *time.Timer
	var headerTimedOut atomic.Bool
	switch {
	case !deadline.IsZero() && !pr.stream:
		attemptCtx, cancel = context.WithDeadline(ctx, deadline)
	case !deadline.IsZero() && pr.stream:
		// Streaming: the deadline covers only the header stage, so the
		// timer drives the cancel. The context is released on the error
		// paths below or, once the body has been handed over, when the
		// caller closes it.
		attemptCtx, cancel = context.WithCancel(ctx)
		headerTimer = time.AfterFunc(time.Until(deadline), func() {
			headerTimedOut.Store(true)
			cancel()
		})
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(attemptCtx); err != nil {
			cancel()
			out <- attemptResult{err: c.wrapTransportErr(err, pr)}
			return false
		}
	}

	req, err := pr.httpRequest(attemptCtx, c.baseURL)
	if err != nil {
		cancel()
		out <- attemptResult{err: err}
		return false
	}

	client := c.httpBuffered
	if pr.bodyStream != nil {
		client = c.httpStream
	}

	resp, err := client.Do(req)
	if headerTimer != nil {
		// Headers received (or the dispatch failed): the stream timeout
		// stage is over either way.
		headerTimer.Stop()
	}
	if err != nil {
		cancel()
		// A fired header timer surfaces as context.Canceled; report it as
		// the timeout it is, unless the caller's own ctx was cancelled. A
		// transport failure that merely straddles the deadline keeps its
		// real error.
		if headerTimedOut.Load() && ctx.Err() == nil {
			out <- attemptResult{err: &TimeoutError{Method: pr.method, Path: pr.path, Budget: pr.timeout}}
			return false
		}
		out <- attemptResult{err: c.wrapTransportErr(err, pr)}
		return false
	}

	retry, res, rerr := c.handleResponse(pr, resp, log)
	if res != nil && res.Body != nil {
		// The stream outlives this attempt; its context is released when
		// the caller closes the body.
		res.Body = &bodyWithCancel{ReadCloser: res.Body, cancel: cancel}
	} else {
		// Safe here: any buffered body has been fully consumed.
		cancel()
	}
	if retry {
		return true
	}
	out <- attemptResult{res: res, err: rerr}
	return false
}

// wrapTransportErr maps a dispatch error to the caller-facing taxonomy:
// budget expiry becomes TimeoutError, everything else is a transport
// failure propagated as-is for the caller to judge.
func (c *Client) wrapTransportErr(err error, pr *preparedRequest) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Method: pr.method, Path: pr.path, Budget: pr.timeout}
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return fmt.Errorf("request failed: %w", err)
}
