// Package callsite captures the caller location where a request was issued,
// so that an error surfaced later by the scheduler can point back at the
// originating call instead of a drain-loop goroutine.
package callsite

import (
	"fmt"
	"runtime"
	"strings"
)

// maxFrames bounds how much of the caller stack is recorded per request.
const maxFrames = 16

// Stack is a captured slice of program counters from the originating call.
type Stack []uintptr

// Capture records the caller stack, skipping the given number of frames
// above Capture itself.
func Capture(skip int) Stack {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	return Stack(pcs[:n])
}

// String formats the captured stack as "func file:line" lines. Runtime
// frames below the program's entry point are omitted.
func (s Stack) String() string {
	if len(s) == 0 {
		return "unknown"
	}

	var b strings.Builder
	frames := runtime.CallersFrames(s)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}

	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return "unknown"
	}
	return out
}

// Origin returns just the first non-runtime frame as "func file:line",
// suitable for single-line log fields.
func (s Stack) Origin() string {
	if len(s) == 0 {
		return "unknown"
	}

	frames := runtime.CallersFrames(s)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			return fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line)
		}
		if !more {
			return "unknown"
		}
	}
}
