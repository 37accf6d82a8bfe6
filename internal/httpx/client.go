// Package httpx builds the shared HTTP transport used for every dispatch.
// The transport is created once per client and reused so that persistent
// connections are shared across all buckets.
package httpx

import (
	"context"
	"crypto/tls"
	"net"
	nethttp "net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/http2"
)

// Transport timeouts. Tuned for long-lived API polling rather than bulk
// transfer: generous handshake budget, aggressive connection reuse.
const (
	dialTimeout           = 30 * time.Second
	dialKeepAlive         = 30 * time.Second
	idleConnTimeout       = 90 * time.Second
	tlsHandshakeTimeout   = 60 * time.Second
	expectContinueTimeout = 1 * time.Second
)

// Retry settings for the connection-level retry wrapper. These cover only
// failures where no response was obtained; status-driven retries (429/5xx)
// are owned by the request scheduler.
const (
	retryMax     = 2
	retryWaitMin = 500 * time.Millisecond
	retryWaitMax = 2 * time.Second
)

// NewTransport creates a pooled transport with proxy support from the
// environment (HTTP_PROXY / HTTPS_PROXY / NO_PROXY) and HTTP/2 enabled.
// Set DISABLE_HTTP2=true to force HTTP/1.1 for debugging or compatibility.
func NewTransport() *nethttp.Transport {
	transport := &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: dialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		ForceAttemptHTTP2:     true,
	}

	// httpproxy honors NO_PROXY (including CIDR entries), unlike a bare
	// ProxyFromEnvironment on some configurations.
	proxyFn := httpproxy.FromEnvironment().ProxyFunc()
	transport.Proxy = func(req *nethttp.Request) (*url.URL, error) {
		return proxyFn(req.URL)
	}

	_ = http2.ConfigureTransport(transport)

	if os.Getenv("DISABLE_HTTP2") == "true" {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	return transport
}

// NewClient returns a plain client over NewTransport. No overall timeout is
// set: each request carries its own deadline via context.
func NewClient() *nethttp.Client {
	return &nethttp.Client{
		Transport: NewTransport(),
	}
}

// NewRetryingClient wraps base with retries for connection-level failures
// only. A nil response with a non-nil error means the request never reached
// the server (dial failure, TLS handshake, reset before headers), which is
// safe to retry; anything with a status code is passed through untouched so
// the scheduler can apply its own 429/5xx policy.
func NewRetryingClient(base *nethttp.Client, log zerolog.Logger) *nethttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = base
	rc.RetryMax = retryMax
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.Logger = &retryLogger{log: log}
	rc.CheckRetry = func(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return true, nil
		}
		return false, nil
	}
	return rc.StandardClient()
}

// retryLogger adapts retryablehttp's LeveledLogger interface onto zerolog.
// Info and Debug are routed at debug level: per-attempt chatter is noise at
// the default warn level.
type retryLogger struct {
	log zerolog.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}
