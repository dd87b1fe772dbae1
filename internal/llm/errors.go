package llm

import (
	"context"
	"errors"
	"strings"
)

// FailureClass categorizes provider failures for user-facing messaging.
type FailureClass int

// Provider failure classes.
const (
	FailureGeneric FailureClass = iota
	FailureRateLimited
	FailureTimeout
	FailureBadCredentials
)

// Fixed user-facing messages, persisted as the assistant turn when the
// provider fails. Chat always degrades to one of these instead of
// surfacing an error to the caller.
const (
	apologyRateLimited    = "I'm experiencing high demand right now. Please try again in a moment."
	apologyTimeout        = "The request took too long. Please try again."
	apologyBadCredentials = "Service is temporarily unavailable. Please contact support."
	apologyGeneric        = "I'm sorry, I encountered an error processing your request. Please try again."
)

// Classify maps a provider failure to a FailureClass by matching known
// substrings of its description. Context deadline expiry counts as a
// timeout regardless of wording.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureGeneric
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"):
		return FailureRateLimited
	case strings.Contains(msg, "timeout"):
		return FailureTimeout
	case strings.Contains(msg, "api key"):
		return FailureBadCredentials
	default:
		return FailureGeneric
	}
}

// UserMessage returns the fixed apology text for a failure class.
func (f FailureClass) UserMessage() string {
	switch f {
	case FailureRateLimited:
		return apologyRateLimited
	case FailureTimeout:
		return apologyTimeout
	case FailureBadCredentials:
		return apologyBadCredentials
	default:
		return apologyGeneric
	}
}

// String names the class for logging.
func (f FailureClass) String() string {
	switch f {
	case FailureRateLimited:
		return "rate_limited"
	case FailureTimeout:
		return "timeout"
	case FailureBadCredentials:
		return "bad_credentials"
	default:
		return "generic"
	}
}
