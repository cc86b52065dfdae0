package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/entity"
)

type RecoveryAttemptRepository struct {
	db DBTX
}

func NewRecoveryAttemptRepository(db DBTX) *RecoveryAttemptRepository {
	return &RecoveryAttemptRepository{db: db}
}

// TryAcquire atomically consumes one recovery attempt for the order. It
// returns acquired=false once the counter has reached maxAttempts. The
// bound lives in the UPDATE's WHERE clause, so concurrent callers cannot
// push the counter past the limit.
func (r *RecoveryAttemptRepository) TryAcquire(ctx context.Context, orderID uint64, maxAttempts int32) (bool, int32, error) {
	now := time.Now().UTC()

	increment := `
		UPDATE recovery_attempts
		SET attempts = attempts + 1, updated_at = ?
		WHERE order_id = ? AND attempts < ?
	`

	result, err := r.db.ExecContext(ctx, increment, now, orderID, maxAttempts)
	if err != nil {
		return false, 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	if affected == 1 {
		current, err := r.currentAttempts(ctx, orderID)
		if err != nil {
			return false, 0, err
		}
		return true, current, nil
	}

	// No row moved: either the counter does not exist yet or it is
	// exhausted.
	current, err := r.currentAttempts(ctx, orderID)
	if err == nil {
		return false, current, nil
	}
	if err != sql.ErrNoRows {
		return false, 0, err
	}

	insert := `INSERT INTO recovery_attempts (order_id, attempts, updated_at) VALUES (?, 1, ?)`
	if _, err := r.db.ExecContext(ctx, insert, orderID, now); err != nil {
		if isDuplicateEntryError(err) {
			// Lost the insert race; retry the bounded increment once.
			result, err := r.db.ExecContext(ctx, increment, now, orderID, maxAttempts)
			if err != nil {
				return false, 0, err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return false, 0, err
			}
			current, cerr := r.currentAttempts(ctx, orderID)
			if cerr != nil {
				return false, 0, cerr
			}
			return affected == 1, current, nil
		}
		return false, 0, err
	}

	return true, 1, nil
}

func (r *RecoveryAttemptRepository) Get(ctx context.Context, orderID uint64) (*entity.RecoveryAttempt, error) {
	query := `SELECT order_id, attempts, updated_at FROM recovery_attempts WHERE order_id = ?`

	attempt := &entity.RecoveryAttempt{}
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(&attempt.OrderID, &attempt.Attempts, &attempt.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return attempt, nil
}

// Reset clears the counter. Operator action only.
func (r *RecoveryAttemptRepository) Reset(ctx context.Context, orderID uint64) error {
	query := `UPDATE recovery_attempts SET attempts = 0, updated_at = ? WHERE order_id = ?`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), orderID)
	return err
}

func (r *RecoveryAttemptRepository) currentAttempts(ctx context.Context, orderID uint64) (int32, error) {
	var attempts int32
	err := r.db.QueryRowContext(ctx, `SELECT attempts FROM recovery_attempts WHERE order_id = ?`, orderID).Scan(&attempts)
	if err != nil {
		return 0, err
	}
	return attempts, nil
}
