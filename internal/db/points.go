package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const insertPointHistory = `
INSERT INTO point_histories (order_id, user_id, points) VALUES ($1, $2, $3)
ON CONFLICT (order_id) DO NOTHING
`

const addPointBalance = `
INSERT INTO user_points (user_id, balance) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET balance = user_points.balance + EXCLUDED.balance
`

// CreditPoints records the points of an order once. It reports whether anything was credited.
// Callers run it inside WithinTx so the history row and the balance move together.
func (q *Queries) CreditPoints(ctx context.Context, arg CreditPointsParams) (bool, error) {
	tag, err := q.db.Exec(ctx, insertPointHistory, arg.OrderID, arg.UserID, arg.Points)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := q.db.Exec(ctx, addPointBalance, arg.UserID, arg.Points); err != nil {
		return false, err
	}
	return true, nil
}

const getPointBalance = `SELECT balance FROM user_points WHERE user_id = $1`

// GetPointBalance returns zero for users that never earned points.
func (q *Queries) GetPointBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := q.db.QueryRow(ctx, getPointBalance, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}
