// Package queue provides the durable outbound message queue. Messages are
// persisted locally before anything touches the network and drained in
// strict FIFO order once connectivity exists.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sokoniapp/sokoni-core/internal/connectivity"
	"github.com/sokoniapp/sokoni-core/internal/db"
	apperrors "github.com/sokoniapp/sokoni-core/internal/errors"
	"github.com/sokoniapp/sokoni-core/internal/events"
	"github.com/sokoniapp/sokoni-core/internal/logging"
	"github.com/sokoniapp/sokoni-core/internal/models"
	"github.com/sokoniapp/sokoni-core/internal/uuid"
)

// DefaultMaxRetries is the delivery attempt budget per message.
const DefaultMaxRetries = 3

// Transport delivers one message to the remote ingestion endpoint. Any
// returned error, transport-level or a non-success response, counts as one
// failed attempt.
type Transport interface {
	Deliver(ctx context.Context, msg *models.Message) error
}

// EnqueueInput carries the fields required to queue a message.
type EnqueueInput struct {
	ConversationID  string
	SenderID        string
	RecipientID     string
	PayloadText     string
	PayloadLanguage string
	AudioPayload    []byte
}

// DrainResult reports the outcome of one delivery attempt.
type DrainResult struct {
	ID      string
	Success bool
	Err     error
}

// Stats holds per-status entry counts.
type Stats struct {
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Failed    int `json:"failed"`
	Undeleted int `json:"undeleted"`
	Total     int `json:"total"`
}

// Config holds queue configuration.
type Config struct {
	MaxRetries int
	AutoSync   bool
}

// OutboundQueue is the durable FIFO queue of undelivered messages.
type OutboundQueue struct {
	repo      *db.Repository
	transport Transport
	monitor   *connectivity.Monitor
	hub       *events.Hub
	log       zerolog.Logger

	maxRetries int

	mu       sync.Mutex
	draining bool

	autoSync  atomic.Bool
	closed    atomic.Bool
	monitorID int
}

// New creates an OutboundQueue and binds it to the connectivity monitor:
// every offline-to-online transition triggers exactly one drain, gated by
// the auto-sync flag.
func New(repo *db.Repository, transport Transport, monitor *connectivity.Monitor, hub *events.Hub, cfg Config) *OutboundQueue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	q := &OutboundQueue{
		repo:       repo,
		transport:  transport,
		monitor:    monitor,
		hub:        hub,
		log:        logging.L().With().Str(logging.FieldComponent, "queue").Logger(),
		maxRetries: cfg.MaxRetries,
	}
	q.autoSync.Store(cfg.AutoSync)

	q.monitorID = monitor.Subscribe(func(online bool) {
		if online && q.autoSync.Load() {
			go func() {
				if _, err := q.DrainAll(context.Background()); err != nil {
					q.log.Error().Err(err).Msg("auto drain failed")
				}
			}()
		}
	})

	return q
}

// Close detaches the queue from the monitor and marks it unusable. Every
// subsequent operation fails fast with NOT_INITIALIZED.
func (q *OutboundQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.monitor.Unsubscribe(q.monitorID)
	}
}

// SetAutoSync toggles the drain-on-reconnect trigger.
func (q *OutboundQueue) SetAutoSync(enabled bool) {
	q.autoSync.Store(enabled)
}

// AutoSync reports whether drain-on-reconnect is enabled.
func (q *OutboundQueue) AutoSync() bool {
	return q.autoSync.Load()
}

func (q *OutboundQueue) guard() error {
	if q.repo == nil || q.closed.Load() {
		return apperrors.New(apperrors.ErrNotInitialized, "outbound queue is not initialized")
	}
	return nil
}

// Enqueue persists a message synchronously and returns it. It never blocks
// on the network; if the device is online a drain is kicked off in the
// background.
func (q *OutboundQueue) Enqueue(input EnqueueInput) (*models.Message, error) {
	if err := q.guard(); err != nil {
		return nil, err
	}
	if input.ConversationID == "" || input.SenderID == "" || input.RecipientID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "conversation, sender and recipient are required")
	}
	if input.PayloadText == "" || input.PayloadLanguage == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "payload text and language are required")
	}

	msg := &models.Message{
		ID:              uuid.NewMessageID(),
		ConversationID:  input.ConversationID,
		SenderID:        input.SenderID,
		RecipientID:     input.RecipientID,
		PayloadText:     input.PayloadText,
		PayloadLanguage: input.PayloadLanguage,
		AudioPayload:    input.AudioPayload,
		EnqueuedAt:      models.Now(),
		RetryCount:      0,
		Status:          models.MessageStatusPending,
	}

	if err := q.repo.CreateMessage(msg); err != nil {
		// The caller must know the message did not durably persist.
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to persist message", err)
	}

	q.log.Info().
		Str(logging.FieldMessageID, msg.ID).
		Str(logging.FieldConversation, msg.ConversationID).
		Msg("message queued")

	q.hub.Publish(events.EventMessageQueued, map[string]interface{}{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
	})

	if q.monitor.IsOnline() {
		go func() {
			if _, err := q.DrainAll(context.Background()); err != nil {
				q.log.Error().Err(err).Msg("drain after enqueue failed")
			}
		}()
	}

	return msg, nil
}

// DrainAll attempts delivery of every pending message in enqueue order.
// Attempts are strictly sequential so FIFO stays observable and a slow
// link is never asked to carry more than one message at a time.
//
// Concurrent calls collapse into the one in flight: an overlapping call
// performs no work and returns an empty result. The same applies when the
// device is offline at call time, checked once, not polled.
func (q *OutboundQueue) DrainAll(ctx context.Context) ([]DrainResult, error) {
	if err := q.guard(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return []DrainResult{}, nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	if !q.monitor.IsOnline() {
		return []DrainResult{}, nil
	}

	pending, err := q.repo.ListPendingMessages()
	if err != nil {
		q.hub.Publish(events.EventSyncFailed, map[string]interface{}{
			"attempted": 0,
			"error":     err.Error(),
		})
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list pending messages", err)
	}
	if len(pending) == 0 {
		return []DrainResult{}, nil
	}

	q.hub.Publish(events.EventSyncStarted, map[string]interface{}{
		"pending": len(pending),
	})

	results := make([]DrainResult, 0, len(pending))
	delivered := 0
	for _, msg := range pending {
		select {
		case <-ctx.Done():
			q.hub.Publish(events.EventSyncFailed, map[string]interface{}{
				"attempted": len(results),
				"error":     ctx.Err().Error(),
			})
			return results, ctx.Err()
		default:
		}

		result := q.attempt(ctx, msg)
		results = append(results, result)
		if result.Success {
			delivered++
		}
	}

	q.hub.Publish(events.EventSyncCompleted, map[string]interface{}{
		"attempted": len(results),
		"delivered": delivered,
		"failed":    len(results) - delivered,
	})

	q.log.Info().
		Int(logging.FieldAttempted, len(results)).
		Int("delivered", delivered).
		Msg("drain completed")

	return results, nil
}

// attempt runs the retry state machine for one entry: syncing during the
// attempt, deleted on success, back to pending or parked as failed on error.
func (q *OutboundQueue) attempt(ctx context.Context, msg *models.Message) DrainResult {
	if err := q.repo.UpdateMessageState(msg.ID, models.MessageStatusSyncing, msg.RetryCount, msg.LastError); err != nil {
		return DrainResult{ID: msg.ID, Err: apperrors.Wrap(apperrors.ErrDatabase, "failed to mark syncing", err)}
	}

	if err := q.transport.Deliver(ctx, msg); err != nil {
		return q.recordFailure(msg, err)
	}

	if err := q.repo.DeleteMessage(msg.ID); err != nil {
		// Delivery is confirmed; re-sending would duplicate the message.
		// Park the row in a terminal state instead of leaving it pending.
		q.log.Error().Err(err).
			Str(logging.FieldMessageID, msg.ID).
			Msg("delivered but local delete failed")
		if stateErr := q.repo.UpdateMessageState(msg.ID, models.MessageStatusDeliveredUndeleted, msg.RetryCount, err.Error()); stateErr != nil {
			q.log.Error().Err(stateErr).
				Str(logging.FieldMessageID, msg.ID).
				Msg("failed to park delivered message")
		}
	}

	return DrainResult{ID: msg.ID, Success: true}
}

func (q *OutboundQueue) recordFailure(msg *models.Message, deliveryErr error) DrainResult {
	retryCount := msg.RetryCount + 1
	status := models.MessageStatusPending
	if retryCount >= q.maxRetries {
		status = models.MessageStatusFailed
	}

	if err := q.repo.UpdateMessageState(msg.ID, status, retryCount, deliveryErr.Error()); err != nil {
		return DrainResult{ID: msg.ID, Err: apperrors.Wrap(apperrors.ErrDatabase, "failed to record delivery failure", err)}
	}

	q.log.Warn().
		Str(logging.FieldMessageID, msg.ID).
		Int(logging.FieldRetryCount, retryCount).
		Str(logging.FieldStatus, string(status)).
		Err(deliveryErr).
		Msg("delivery attempt failed")

	return DrainResult{
		ID:  msg.ID,
		Err: apperrors.Wrap(apperrors.ErrDeliveryFailed, "delivery failed", deliveryErr),
	}
}

// RetryFailed resets every failed entry to pending with a fresh retry
// budget, then drains.
func (q *OutboundQueue) RetryFailed(ctx context.Context) ([]DrainResult, error) {
	if err := q.guard(); err != nil {
		return nil, err
	}

	reset, err := q.repo.ResetFailedMessages()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset failed messages", err)
	}
	if reset > 0 {
		q.log.Info().Int64("reset", reset).Msg("failed messages reset for retry")
	}

	return q.DrainAll(ctx)
}

// Delete removes one entry without delivering it.
func (q *OutboundQueue) Delete(id string) error {
	if err := q.guard(); err != nil {
		return err
	}

	if err := q.repo.DeleteMessage(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrQueueMessageNotFound, "message not found: "+id)
		}
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete message", err)
	}
	return nil
}

// ClearAll removes every entry without delivering them.
func (q *OutboundQueue) ClearAll() error {
	if err := q.guard(); err != nil {
		return err
	}

	if err := q.repo.DeleteAllMessages(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear queue", err)
	}
	q.log.Info().Msg("queue cleared")
	return nil
}

// GetByStatus returns entries with the given status, oldest first.
func (q *OutboundQueue) GetByStatus(status models.MessageStatus) ([]*models.Message, error) {
	if err := q.guard(); err != nil {
		return nil, err
	}

	msgs, err := q.repo.ListMessagesByStatus(status)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list messages", err)
	}
	return msgs, nil
}

// GetByConversation returns entries for one conversation, oldest first.
func (q *OutboundQueue) GetByConversation(conversationID string) ([]*models.Message, error) {
	if err := q.guard(); err != nil {
		return nil, err
	}

	msgs, err := q.repo.ListMessagesByConversation(conversationID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list messages", err)
	}
	return msgs, nil
}

// GetStats returns per-status entry counts.
func (q *OutboundQueue) GetStats() (*Stats, error) {
	if err := q.guard(); err != nil {
		return nil, err
	}

	counts, err := q.repo.CountMessagesByStatus()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count messages", err)
	}

	stats := &Stats{
		Pending:   counts[models.MessageStatusPending],
		Syncing:   counts[models.MessageStatusSyncing],
		Failed:    counts[models.MessageStatusFailed],
		Undeleted: counts[models.MessageStatusDeliveredUndeleted],
	}
	stats.Total = stats.Pending + stats.Syncing + stats.Failed + stats.Undeleted
	return stats, nil
}
