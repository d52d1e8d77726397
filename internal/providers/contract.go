package providers

import (
	"fmt"
	"strconv"
	"time"
)

// StatusError captures an HTTP status code from a provider or tool response.
// Adapters inspect it to classify failures without string-matching messages.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter records a Retry-After header value, accepting both
// delta-seconds and HTTP-date forms.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		e.RetryAfterSecs = secs
		return
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := time.Until(t); d > 0 {
			e.RetryAfterSecs = int(d.Seconds() + 0.5)
		}
	}
}
