// Package errors provides the structured error taxonomy used by the quotagate
// engine and its collaborators.
//
// # Error Categories
//
//   - Transient: temporary failures a caller may retry (network, 5xx)
//   - Permanent: failures where retry will not help (bad input, unknown service)
//   - Resource: quota or capacity exhaustion (429, no token, queue timeout)
//   - Internal: unexpected errors
//
// # Engine Codes
//
//   - CAPACITY: no token or slot and no cooldown configured, so the call fails fast
//   - QUEUE_TIMEOUT: a queued caller was not served within ten cooldowns
//   - RATE_LIMITED: the wrapped work reported an upstream rate limit
//   - RETRIES_EXHAUSTED: the retry budget was spent on rate-limit failures
//
// Any other error returned by a unit of work is passed through untouched.
//
// # Marking Work Failures
//
// The engine never inspects error text. A unit of work that hits an upstream
// rate limit returns a RATE_LIMITED error:
//
//	if resp.StatusCode == http.StatusTooManyRequests {
//	    return errors.RateLimited("platform-a throttled", errors.WithRetryAfter(30*time.Second))
//	}
//
// HTTP collaborators can use FromHTTPStatus to build the right error for any
// status code. To report a 429 that must not be retried:
//
//	errors.RateLimited("daily quota spent", errors.WithRetryable(false))
//
// # JSON Serialization
//
// Errors marshal to JSON for the admin API:
//
//	data, err := json.Marshal(callErr)
package errors
