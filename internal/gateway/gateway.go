// Package gateway abstracts the push delivery service: a batch of opaque
// device tokens and one payload in, a per-token outcome out. Drivers classify
// failures so callers can tell permanently dead tokens (unregister the
// device) from transient ones (retry on the next sweep).
package gateway

import "context"

// Payload is the notification content delivered to every token in a batch.
type Payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	ReminderID string `json:"reminderId,omitempty"`
	Task       string `json:"task,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Link       string `json:"link,omitempty"`
}

// TokenResult is the outcome of delivering to one token. Permanent is true
// only for failures that mean the token will never work again (unregistered,
// malformed, wrong credentials) as opposed to timeouts and service hiccups.
type TokenResult struct {
	Token     string
	Delivered bool
	Permanent bool
	Err       error
}

// Result aggregates a batch send.
type Result struct {
	Success int
	Failure int
	Tokens  []TokenResult
}

// InvalidTokens returns the tokens whose failure was classified permanent.
func (r *Result) InvalidTokens() []string {
	var invalid []string
	for _, tr := range r.Tokens {
		if !tr.Delivered && tr.Permanent {
			invalid = append(invalid, tr.Token)
		}
	}
	return invalid
}

// Gateway delivers one payload to a batch of tokens. SendBatch only returns
// an error when the batch as a whole could not be attempted; individual token
// failures are reported in the Result.
type Gateway interface {
	SendBatch(ctx context.Context, tokens []string, payload Payload) (*Result, error)
}
