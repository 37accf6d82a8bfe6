package chatwire

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatwire/chatwire-go/internal/httpx"
)

// Rate-limit headers recognized on responses.
const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset" // fractional seconds since epoch
	headerGlobal     = "X-RateLimit-Global"
	headerRetryAfter = "Retry-After" // relative seconds
)

// Result is the successful outcome of a request. Exactly one of Data,
// Bytes, or Body is populated: parsed JSON when the response declares a
// JSON content type, raw bytes otherwise, or the live decoded stream when
// the request asked for streaming.
type Result struct {
	Status int
	Header http.Header

	Data  any
	Bytes []byte
	Body  io.ReadCloser
}

// maxResetWindow caps how far in the future a reported reset is honored. A
// corrupt or absurd header value must not wedge an exhausted bucket.
const maxResetWindow = time.Hour

// parseReset extracts the bucket reset time from a response. The absolute
// fractional-epoch header wins; the relative Retry-After header is a
// fallback anchored to the local clock. Zero time means no reset reported.
// Values are clamped to maxResetWindow ahead; negative and non-numeric
// values count as not reported.
func parseReset(h http.Header) time.Time {
	now := time.Now()
	if v := h.Get(headerReset); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			// Bounding the epoch value first keeps the nanosecond
			// conversion below from overflowing int64.
			if f > float64(now.Add(maxResetWindow).Unix()) {
				return now.Add(maxResetWindow)
			}
			return time.Unix(0, int64(f*float64(time.Second)))
		}
	}
	if v := h.Get(headerRetryAfter); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			if f > maxResetWindow.Seconds() {
				return now.Add(maxResetWindow)
			}
			return now.Add(time.Duration(f * float64(time.Second)))
		}
	}
	return time.Time{}
}

// handleResponse classifies a completed response: updates bucket state,
// arms the global throttle, decides retry-vs-result, and decodes the body.
// A true retry return means the caller must requeue the identical prepared
// request; nothing has been delivered.
func (c *Client) handleResponse(pr *preparedRequest, resp *http.Response, log zerolog.Logger) (retry bool, res *Result, err error) {
	reset := parseReset(resp.Header)

	// The only path by which a bucket's remaining count becomes known.
	if rem := resp.Header.Get(headerRemaining); rem != "" && pr.bucketKey != "" {
		if n, perr := strconv.Atoi(rem); perr == nil {
			c.limiter.Update(pr.bucketKey, n, reset)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests && !reset.IsZero() && resp.Header.Get(headerGlobal) != "" {
		c.limiter.ArmGlobal(reset, log)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Transient: the body carries nothing we keep.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()

		if pr.canReplay() {
			log.Debug().Int("status", resp.StatusCode).Str("bucket", pr.bucketKey).Msg("transient response, requeueing")
			return true, nil, nil
		}
		// A consumed stream body cannot be replayed byte-identically.
		log.Warn().Int("status", resp.StatusCode).Msg("transient response on unreplayable stream body")
		return false, nil, c.apiError(pr, resp.StatusCode, nil, "")
	}

	body, derr := httpx.Decompress(resp.Body, resp.Header.Get("Content-Encoding"))
	if derr != nil {
		return false, nil, derr
	}

	if pr.stream && resp.StatusCode < 400 {
		return false, &Result{
			Status: resp.StatusCode,
			Header: resp.Header,
			Body:   body,
		}, nil
	}

	data, rerr := io.ReadAll(body)
	body.Close()
	if rerr != nil {
		return false, nil, c.wrapTransportErr(rerr, pr)
	}

	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode >= 400 {
		return false, nil, c.apiError(pr, resp.StatusCode, data, contentType)
	}

	result := &Result{
		Status: resp.StatusCode,
		Header: resp.Header,
	}
	if httpx.IsJSON(contentType) && len(data) > 0 {
		if uerr := json.Unmarshal(data, &result.Data); uerr != nil {
			return false, nil, fmt.Errorf("decode response body: %w", uerr)
		}
		return false, result, nil
	}
	result.Bytes = data
	return false, result, nil
}

// apiError builds the terminal error for a final >= 400 response, pulling
// the remote code and message out of a structured body when there is one.
func (c *Client) apiError(pr *preparedRequest, status int, data []byte, contentType string) error {
	apiErr := &APIError{
		Code:    -1,
		Status:  status,
		Method:  pr.method,
		Path:    pr.path,
		Origin:  pr.origin,
		Message: http.StatusText(status),
	}

	if httpx.IsJSON(contentType) && len(data) > 0 {
		var body struct {
			Code    *int   `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &body); err == nil {
			if body.Code != nil {
				apiErr.Code = *body.Code
			}
			if body.Message != "" {
				apiErr.Message = body.Message
			}
		}
	} else if len(data) > 0 {
		apiErr.Message = string(data)
	}

	return apiErr
}
