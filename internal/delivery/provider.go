// Package delivery defines the delivery provider contract and its
// AWS SES implementation.
//
// The provider sends exactly one message per call and reports failures
// through a small typed taxonomy: *RateLimitError for throttling (the
// caller owns backoff) and *SendError for everything else, with
// Permanent marking hard bounces.
package delivery

import (
	"context"
	"fmt"
	"time"
)

// Message is a fully-rendered email ready for the provider. All
// personalization happens before this point.
type Message struct {
	From        string            `json:"from"`
	FromName    string            `json:"from_name"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html"`
	Text        string            `json:"text,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	CampaignTag string            `json:"campaign_tag,omitempty"`
}

// Result is returned on successful delivery handoff.
type Result struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// Provider sends one email per call. Implementations must classify
// throttling as *RateLimitError and hard rejection as a permanent
// *SendError so callers can distinguish backoff from finalization.
type Provider interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// RateLimitError reports provider throttling. RetryAfter is a hint;
// the caller owns the backoff policy.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("delivery rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

// SendError reports a non-throttling delivery failure. Permanent means
// the address is undeliverable (hard bounce) and the send must not be
// retried.
type SendError struct {
	Message   string
	Permanent bool
}

func (e *SendError) Error() string {
	if e.Permanent {
		return "delivery permanently failed: " + e.Message
	}
	return "delivery failed: " + e.Message
}
