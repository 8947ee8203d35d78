package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskAttemptExpire marks a payment attempt abandoned after the intent TTL
// passes without a confirmation callback.
const TaskAttemptExpire = "attempt:expire"

type expirePayload struct {
	OrderID string `json:"orderId"`
}

// Scheduler enqueues delayed expiry tasks when intents are issued.
type Scheduler struct {
	Client *asynq.Client
}

// ScheduleExpiry arranges for the attempt to be swept after the given delay if
// it never settles.
func (s *Scheduler) ScheduleExpiry(ctx context.Context, orderID string, delay time.Duration) error {
	if s == nil || s.Client == nil {
		return errors.New("worker: scheduler not configured")
	}
	payload, err := json.Marshal(expirePayload{OrderID: orderID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskAttemptExpire, payload)
	_, err = s.Client.EnqueueContext(ctx, task, asynq.ProcessIn(delay), asynq.MaxRetry(5))
	return err
}

// Abandoner is the slice of the journal the expiry handler needs.
type Abandoner interface {
	Abandon(ctx context.Context, orderID string) (bool, error)
}

// ExpiryHandler processes attempt:expire tasks on the worker side.
type ExpiryHandler struct {
	Journal Abandoner
	Logger  *zerolog.Logger
}

// HandleExpire abandons the attempt if it is still pending. Attempts already
// settled by a confirmation callback are left untouched.
func (h *ExpiryHandler) HandleExpire(ctx context.Context, t *asynq.Task) error {
	var payload expirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// Malformed payloads never become valid; do not retry.
		return asynq.SkipRetry
	}
	abandoned, err := h.Journal.Abandon(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if abandoned && h.Logger != nil {
		h.Logger.Info().Str("order_id", payload.OrderID).Msg("payment attempt abandoned")
	}
	return nil
}

// Mux returns the task routing table for the worker server.
func (h *ExpiryHandler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskAttemptExpire, h.HandleExpire)
	return mux
}
