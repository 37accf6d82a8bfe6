package chatwire

import (
	"errors"
	"fmt"
	"time"

	"github.com/chatwire/chatwire-go/internal/callsite"
)

// ErrTokenRequired is returned synchronously when a request asks for
// authentication but the client was configured without a token. It is never
// retried.
var ErrTokenRequired = errors.New("request requires auth but no token was configured")

// APIError is the terminal failure for a request whose final response
// status was >= 400 and was not (or could no longer be) retried. Code and
// Message come from the remote error body; Code is -1 when the body was not
// structured JSON.
type APIError struct {
	Code    int
	Message string
	Status  int
	Method  string
	Path    string

	// Origin is the caller stack captured when the request was issued.
	// Failures surface on a drain-loop goroutine far from the call site, so
	// this is what points back at the code that made the call.
	Origin callsite.Stack
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error on %s %s: status %d, code %d: %s", e.Method, e.Path, e.Status, e.Code, e.Message)
}

// TimeoutError is returned when a request's timeout budget elapses before
// the response completes, including the case where transient 429/5xx
// retries consumed the whole budget.
type TimeoutError struct {
	Method string
	Path   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s %s timed out after %s budget", e.Method, e.Path, e.Budget)
}

// Timeout implements the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

// Temporary implements the net.Error convention. The budget is spent, so
// retrying the same request object is not useful.
func (e *TimeoutError) Temporary() bool { return false }
