package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// FailureKind categorizes an inference failure for user-facing remediation.
type FailureKind int

const (
	// FailureUnknown is the fallback for unclassified failures.
	FailureUnknown FailureKind = iota
	// FailureQuota indicates the API quota or rate limit was exhausted.
	FailureQuota
	// FailureTimeout indicates the call did not complete in time.
	FailureTimeout
	// FailurePayloadTooLarge indicates the request body exceeded provider limits.
	FailurePayloadTooLarge
	// FailureUnauthorized indicates an invalid or missing API key.
	FailureUnauthorized
)

// String returns the string representation of FailureKind.
func (k FailureKind) String() string {
	switch k {
	case FailureQuota:
		return "quota"
	case FailureTimeout:
		return "timeout"
	case FailurePayloadTooLarge:
		return "payload_too_large"
	case FailureUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Failure wraps an inference error with its classification. Every failing
// call resolves to a Failure, and UserMessage always yields text, so the
// session controller can never stall without a user-facing message.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("inference failure: %s", f.Kind)
	}
	return fmt.Sprintf("inference failure (%s): %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// UserMessage returns remediation text suitable for the transcript.
func (f *Failure) UserMessage() string {
	switch f.Kind {
	case FailureQuota:
		return "API quota exceeded. Please try again later."
	case FailureTimeout:
		return "Analysis timed out. Try a clearer image."
	case FailurePayloadTooLarge:
		return "File too large. Try a smaller file."
	default:
		return "Unable to analyze report. Please try again."
	}
}

// AsFailure extracts a *Failure from err, classifying on the fly if the
// error did not originate from an engine.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return Classify(err)
}

// Classify maps a raw provider error to a structured Failure. Provider
// status codes are authoritative; string matching remains only as a
// last-resort adapter at the boundary to the third-party service.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Failure{Kind: FailureTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &Failure{Kind: FailureQuota, Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Failure{Kind: FailureUnauthorized, Err: err}
		case http.StatusRequestEntityTooLarge:
			return &Failure{Kind: FailurePayloadTooLarge, Err: err}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &Failure{Kind: FailureTimeout, Err: err}
		}
	}

	return &Failure{Kind: classifyByMessage(err.Error()), Err: err}
}

func classifyByMessage(msg string) FailureKind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return FailureQuota
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(msg, "too large"), strings.Contains(msg, "maximum context length"):
		return FailurePayloadTooLarge
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "incorrect api key"):
		return FailureUnauthorized
	default:
		return FailureUnknown
	}
}
