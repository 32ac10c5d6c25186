// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// DefaultDedupRetention is how long inbound message ids are remembered.
const DefaultDedupRetention = 7 * 24 * time.Hour

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string         `json:"message_id"`
	Address     models.Address `json:"address"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Transports may redeliver a message; only the first delivery that finishes
// handling is routed.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded and processed (duplicate). A recorded id
	// without processed_at, left behind by a crash mid-handling, is accepted
	// again.
	RecordInbound(ctx context.Context, messageID string, addr models.Address) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error

	// PruneDedup deletes records received before the given time and returns
	// how many were removed.
	PruneDedup(ctx context.Context, before time.Time) (int64, error)
}
