package store

import (
	"context"
	"fmt"

	"equipment-booking/internal/models"

	"github.com/jmoiron/sqlx"
)

// relayLockKey serializes outbox relays across processes sharing a database
// so messages of one key are published in commit order.
const relayLockKey int64 = 0x6f7574626f78

func insertOutbox(ctx context.Context, tx *sqlx.Tx, msg *models.OutboxMessage) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (id, topic, message_key, payload) VALUES ($1, $2, $3, $4)`,
		msg.ID, msg.Topic, msg.Key, msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return nil
}

// OutboxPublisher writes msgs to the bus in order and returns how many of
// them, counted from the front, were delivered.
type OutboxPublisher func(ctx context.Context, msgs []models.OutboxMessage) (int, error)

// RelayOutbox hands up to limit unpublished messages, oldest first, to
// publish in one call and marks the delivered prefix. Nothing after the
// first failed message is marked, so a later message never overtakes an
// earlier one. It returns the number of messages marked.
func (s *Store) RelayOutbox(ctx context.Context, limit int, publish OutboxPublisher) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var locked bool
	if err := tx.GetContext(ctx, &locked, "SELECT pg_try_advisory_xact_lock($1)", relayLockKey); err != nil {
		return 0, fmt.Errorf("failed to take relay lock: %w", err)
	}
	if !locked {
		return 0, nil
	}

	var msgs []models.OutboxMessage
	err = tx.SelectContext(ctx, &msgs,
		`SELECT seq, id, topic, message_key, payload, created_at, published_at
		 FROM outbox WHERE published_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	n, publishErr := publish(ctx, msgs)
	if n > len(msgs) {
		n = len(msgs)
	}

	if n > 0 {
		delivered := make([]int64, n)
		for i := range delivered {
			delivered[i] = msgs[i].Seq
		}
		query, args, err := sqlx.In("UPDATE outbox SET published_at = NOW() WHERE seq IN (?)", delivered)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return 0, fmt.Errorf("failed to mark outbox published: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}

	if publishErr != nil {
		return n, fmt.Errorf("failed to publish outbox messages: %w", publishErr)
	}
	return n, nil
}

// PendingOutbox counts messages not yet relayed.
func (s *Store) PendingOutbox(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM outbox WHERE published_at IS NULL")
	return n, err
}
