// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound message deduplication record keyed on
// the transport provider's message id.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	LeadPhone   string     `json:"lead_phone"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Retried provider callbacks carrying a message id that was already
// recorded are acknowledged without reprocessing.
type DedupRepo interface {
	// IsDuplicate checks if a provider message ID has already been seen.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound inserts a new inbound message record. Returns false if
	// the message id was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, leadPhone string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message id.
	MarkProcessed(ctx context.Context, messageID string) error
}
