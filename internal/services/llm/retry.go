package llm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig defines backoff behavior for provider API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// InitialBackoff is the wait time before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the wait time between retries
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff on each retry
	BackoffMultiplier float64
}

// Default retry constants for provider rate limiting.
const (
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 2 * time.Second
	DefaultMaxBackoff        = 60 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// NewDefaultRetryConfig returns a RetryConfig with sensible defaults
// for handling provider rate limits and transient failures.
func NewDefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// IsRateLimitError checks if an error is a provider rate limit error.
// Matches 429 status codes, RESOURCE_EXHAUSTED, and quota messages.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "quota")
}

// IsTransientError checks if an error is worth retrying: rate limits,
// upstream 5xx responses, and connection-level failures.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimitError(err) {
		return true
	}
	errStr := err.Error()
	for _, marker := range []string{
		"500", "502", "503", "504",
		"overloaded",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"EOF",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from an error
// message. Returns 0 if no delay is found.
//
// Example Gemini message:
// "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// CalculateBackoff computes the backoff duration for a given attempt.
// If apiDelay > 0 (from ExtractRetryDelay), it is used as the base;
// otherwise InitialBackoff is. The result is capped at MaxBackoff.
func (c RetryConfig) CalculateBackoff(attempt int, apiDelay time.Duration) time.Duration {
	base := c.InitialBackoff
	if apiDelay > 0 {
		// Use the API-provided delay plus a small buffer
		base = apiDelay + time.Second
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}

	return backoff
}
