package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// InsertWebhookEvent attempts to record a webhook event id in the dedup
// ledger. The ledger is append-only and uniqueness-constrained: the insert
// failing on the unique constraint IS the duplicate signal, so there is no
// read-then-write race. Returns true when the event is fresh, false when it
// was already processed. Any other database failure propagates.
func (s *Store) InsertWebhookEvent(ctx context.Context, eventID string) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_dedup (id, received_at) VALUES ($1, now())`, eventID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return true, nil
}
