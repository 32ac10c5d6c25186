package store

import (
	"context"
	"fmt"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID string, addr models.Address) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, address, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO UPDATE SET address = EXCLUDED.address
		 WHERE inbound_dedup.processed_at IS NULL`,
		messageID, string(addr), toMillis(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return affectedOne(res)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		toMillis(time.Now()), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneDedup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("prune dedup failed: %w", err)
	}
	return res.RowsAffected()
}
