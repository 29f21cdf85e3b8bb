package domain

import (
	"strings"
	"time"
)

// SendStatus enumerates the lifecycle states of a send record.
type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
	SendBounced SendStatus = "bounced"
)

// Terminal reports whether a send record in this status may never be
// dispatched again. Failed records are retryable (see RetryCount);
// bounced records are not.
func (s SendStatus) Terminal() bool {
	return s == SendSent || s == SendBounced
}

// SendRecord is the claim ticket for one (campaign, recipient) pair.
// Its ID is deterministic, so a second worker attempting to create the
// same claim collides on the store's unique key instead of duplicating.
// Created exactly once with status pending, then only ever updated.
type SendRecord struct {
	ID                string     `json:"id" db:"id"`
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	RecipientID       string     `json:"recipient_id" db:"recipient_id"`
	RecipientEmail    string     `json:"recipient_email" db:"recipient_email"`
	Status            SendStatus `json:"status" db:"status"`
	ReservedAt        time.Time  `json:"reserved_at" db:"reserved_at"`
	SentAt            *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	ProviderMessageID string     `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorMessage      string     `json:"error_message,omitempty" db:"error_message"`
	RetryCount        int        `json:"retry_count" db:"retry_count"`
}

// SendRecordKey derives the deterministic send record ID for a
// (campaign, recipient) pair. Recipient IDs are lowercased so that a
// recipient imported with mixed case cannot be claimed twice.
func SendRecordKey(campaignID, recipientID string) string {
	return campaignID + ":" + strings.ToLower(recipientID)
}

// SplitSendRecordKey splits a deterministic record ID back into its
// campaign and recipient parts. Returns ok=false for malformed IDs.
func SplitSendRecordKey(id string) (campaignID, recipientID string, ok bool) {
	i := strings.IndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// NewSendRecord builds a pending send record for a recipient. The
// caller is expected to insert it through the store, which enforces
// uniqueness on the deterministic ID.
func NewSendRecord(campaignID string, r Recipient, now time.Time) *SendRecord {
	return &SendRecord{
		ID:             SendRecordKey(campaignID, r.ID),
		CampaignID:     campaignID,
		RecipientID:    strings.ToLower(r.ID),
		RecipientEmail: strings.ToLower(strings.TrimSpace(r.Email)),
		Status:         SendPending,
		ReservedAt:     now.UTC(),
	}
}

// CampaignStats holds per-status delivery counts for one campaign.
type CampaignStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Bounced int `json:"bounced"`
}
