package store

import (
	"context"
	"fmt"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID string, addr models.Address) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, address, received_at) VALUES (?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET address = excluded.address
		 WHERE inbound_dedup.processed_at IS NULL`,
		messageID, string(addr), toMillis(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		toMillis(time.Now()), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneDedup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	return res.RowsAffected()
}
