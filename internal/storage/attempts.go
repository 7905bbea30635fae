package storage

import (
	"context"
	"time"

	"solana-custody-bot/internal/transfer"
)

// AttemptLog stores transfer submissions so a restart cannot forget a broadcast
type AttemptLog struct {
	db *DB
}

// Attempts returns the SQLite-backed transfer.AttemptLog
func (d *DB) Attempts() *AttemptLog {
	return &AttemptLog{db: d}
}

var _ transfer.AttemptLog = (*AttemptLog)(nil)

func (l *AttemptLog) Record(ctx context.Context, a transfer.Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := l.db.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transfer_attempts
		(idempotency_key, signature, source, destination, asset, amount, destination_pre_balance, last_valid_height, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.IdempotencyKey, a.Signature, a.Source, a.Destination, a.Asset, a.Amount,
		a.DestinationPreBalance, a.LastValidBlockHeight, a.Status, a.CreatedAt.UnixMilli())
	return err
}

func (l *AttemptLog) Attempts(ctx context.Context, key string) ([]transfer.Attempt, error) {
	rows, err := l.db.db.QueryContext(ctx, `
		SELECT idempotency_key, signature, source, destination, asset, amount, destination_pre_balance, last_valid_height, status, created_at
		FROM transfer_attempts WHERE idempotency_key = ? ORDER BY created_at, rowid`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transfer.Attempt
	for rows.Next() {
		var a transfer.Attempt
		var created int64
		if err := rows.Scan(&a.IdempotencyKey, &a.Signature, &a.Source, &a.Destination, &a.Asset, &a.Amount,
			&a.DestinationPreBalance, &a.LastValidBlockHeight, &a.Status, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *AttemptLog) SetStatus(ctx context.Context, key, signature, status string) error {
	_, err := l.db.db.ExecContext(ctx, `
		UPDATE transfer_attempts SET status = ? WHERE idempotency_key = ? AND signature = ?`,
		status, key, signature)
	return err
}
