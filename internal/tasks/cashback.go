// Package tasks holds the background jobs run by cmd/worker on asynq.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/db"
	"github.com/noah-isme/toko-pricing/internal/obs"
)

// TypeOrderCashback credits the cashback points frozen on an order.
const TypeOrderCashback = "order:cashback"

// CashbackPayload is the body of an order:cashback task.
type CashbackPayload struct {
	OrderID uuid.UUID `json:"orderId"`
	UserID  uuid.UUID `json:"userId"`
	Points  int64     `json:"points"`
}

// NewCashbackTask builds the task for an order. The task id is derived from the order so the
// same order is never queued twice.
func NewCashbackTask(p CashbackPayload) (*asynq.Task, error) {
	if p.OrderID == uuid.Nil || p.UserID == uuid.Nil || p.Points <= 0 {
		return nil, fmt.Errorf("invalid cashback payload for order %s", p.OrderID)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrderCashback, body,
		asynq.TaskID("cashback:"+p.OrderID.String()),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
	), nil
}

// Client enqueues tasks.
type Client struct {
	C *asynq.Client
}

// EnqueueCashback queues the cashback credit of an order. A task already queued for the
// order is not an error.
func (c Client) EnqueueCashback(ctx context.Context, p CashbackPayload) error {
	if c.C == nil {
		return errors.New("tasks: client not configured")
	}
	task, err := NewCashbackTask(p)
	if err != nil {
		return err
	}
	if _, err := c.C.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue cashback: %w", err)
	}
	return nil
}

// CashbackHandler credits points. Crediting is idempotent per order so retries are safe.
type CashbackHandler struct {
	Q   db.Querier
	Log zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h CashbackHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p CashbackPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.ObserveCashback("invalid")
		return fmt.Errorf("decode cashback payload: %v: %w", err, asynq.SkipRetry)
	}
	credited, err := h.Q.CreditPoints(ctx, db.CreditPointsParams{OrderID: p.OrderID, UserID: p.UserID, Points: p.Points})
	if err != nil {
		obs.ObserveCashback("error")
		return fmt.Errorf("credit points for order %s: %w", p.OrderID, err)
	}
	if !credited {
		obs.ObserveCashback("duplicate")
		h.Log.Debug().Str("order_id", p.OrderID.String()).Msg("cashback already credited")
		return nil
	}
	obs.ObserveCashback("credited")
	h.Log.Info().Str("order_id", p.OrderID.String()).Str("user_id", p.UserID.String()).Int64("points", p.Points).Msg("cashback credited")
	return nil
}

// Register mounts every handler on mux.
func Register(mux *asynq.ServeMux, cashback CashbackHandler) {
	mux.Handle(TypeOrderCashback, cashback)
}
