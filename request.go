package chatwire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chatwire/chatwire-go/internal/callsite"
	"github.com/chatwire/chatwire-go/internal/ratelimit"
)

// RequestOptions control a single request. The zero value is a plain
// unauthenticated request with no body.
type RequestOptions struct {
	// Headers are merged over the client defaults; on conflict the caller
	// wins.
	Headers http.Header

	// Body may be nil, a []byte or string (sent as-is, no Content-Type
	// injected), an io.Reader (streamed as-is), or any other value, which
	// is JSON-serialized with Content-Type set accordingly.
	Body any

	// Auth appends the Authorization header from the client token.
	Auth bool

	// Timeout overrides the client default budget for this request.
	// Zero means use the client default; the default default is unbounded.
	Timeout time.Duration

	// Query is encoded and appended to the wire path.
	Query url.Values

	// Stream hands the decoded response body to the caller as a live
	// stream instead of buffering it. The caller owns closing Result.Body.
	Stream bool
}

// preparedRequest is the immutable output of the preparer: everything the
// scheduler needs to dispatch (and re-dispatch) one request.
type preparedRequest struct {
	method     string
	route      string // as passed by the caller, bucket identity
	path       string // wire path: /api/v{n}{route}[?query]
	header     http.Header
	body       []byte    // buffered body, nil when absent or streaming
	bodyStream io.Reader // streaming body, nil otherwise
	bucketKey  string
	timeout    time.Duration // 0 = unbounded
	stream     bool          // caller wants the response as a stream
	origin     callsite.Stack
}

// prepare resolves options into a wire-ready request. It is pure: no I/O,
// no client state mutation, safe to call and discard.
func (c *Client) prepare(method, route string, opts *RequestOptions) (*preparedRequest, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	header := make(http.Header)
	header.Set("User-Agent", c.userAgent)
	header.Set("Accept-Encoding", "gzip, deflate")
	for k, vs := range opts.Headers {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	if opts.Auth {
		if c.cfg.Token == "" {
			return nil, ErrTokenRequired
		}
		header.Set("Authorization", c.tokenKind.prefix()+c.cfg.Token)
	}

	pr := &preparedRequest{
		method:    method,
		route:     route,
		header:    header,
		bucketKey: ratelimit.BucketKey(route),
		timeout:   opts.Timeout,
		stream:    opts.Stream,
	}
	if pr.timeout == 0 {
		pr.timeout = c.cfg.Timeout
	}

	switch v := opts.Body.(type) {
	case nil:
	case []byte:
		pr.body = v
	case string:
		pr.body = []byte(v)
	case json.RawMessage:
		pr.body = []byte(v)
	case io.Reader:
		pr.bodyStream = v
		// A streaming body has no predictable transfer duration; the
		// timeout budget does not apply to it.
		pr.timeout = 0
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		pr.body = b
		header.Set("Content-Type", "application/json")
	}

	// Bucket identity comes from the unprefixed route; the version prefix
	// and query string only shape the wire path.
	pr.path = fmt.Sprintf("/api/v%d%s", c.version, route)
	if len(opts.Query) > 0 {
		pr.path += "?" + opts.Query.Encode()
	}

	return pr, nil
}

// canReplay reports whether the request can be dispatched again with an
// identical body. Buffered bodies always can; streaming bodies only when
// the stream is seekable.
func (pr *preparedRequest) canReplay() bool {
	if pr.bodyStream == nil {
		return true
	}
	_, ok := pr.bodyStream.(io.Seeker)
	return ok
}

// httpRequest builds a fresh *http.Request for one attempt. Headers are
// cloned and seekable stream bodies rewound so every attempt sends the same
// bytes.
func (pr *preparedRequest) httpRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	var body io.Reader
	switch {
	case pr.bodyStream != nil:
		if s, ok := pr.bodyStream.(io.Seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
		}
		body = pr.bodyStream
	case pr.body != nil:
		body = bytes.NewReader(pr.body)
	}

	req, err := http.NewRequestWithContext(ctx, pr.method, baseURL+pr.path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = pr.header.Clone()
	return req, nil
}
