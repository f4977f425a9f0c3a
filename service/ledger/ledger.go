package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalflowhq/SignalFlow-server/cmd/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("delivery not found")
	ErrInvalidTransition = errors.New("invalid delivery transition")
)

// transitionSources declares, for each target status, the statuses a row may
// move from. This is the whole lifecycle: pending -> delivered -> acknowledged
// -> executed, with failed/skipped terminal and failed -> pending the single
// backward edge (manual retry).
var transitionSources = map[string][]string{
	models.DeliveryDelivered:    {models.DeliveryPending},
	models.DeliveryAcknowledged: {models.DeliveryDelivered},
	models.DeliveryExecuted:     {models.DeliveryDelivered, models.DeliveryAcknowledged},
	models.DeliveryFailed:       {models.DeliveryPending, models.DeliveryDelivered, models.DeliveryAcknowledged},
	models.DeliveryPending:      {models.DeliveryFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to string) bool {
	for _, src := range transitionSources[to] {
		if src == from {
			return true
		}
	}
	return false
}

// Ledger is the only path allowed to mutate delivery rows. Every transition
// is a single conditional UPDATE guarded on the current status, so two
// transports racing on the same row can never both win. Timestamps are
// stamped here with the database round-trip's now, which keeps
// acknowledged_at >= delivered_at and executed_at >= acknowledged_at without
// trusting callers.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// MarkDelivered moves a pending delivery to delivered. Calling it on a row
// already at or past delivered is a silent no-op, so drains, pulls and
// webhook completions can all report delivery without coordinating.
func (l *Ledger) MarkDelivered(deliveryID uint) error {
	now := time.Now()
	result := l.db.Model(&models.Delivery{}).
		Where("id = ? AND status = ?", deliveryID, models.DeliveryPending).
		Updates(map[string]interface{}{
			"status":       models.DeliveryDelivered,
			"delivered_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	status, err := l.currentStatus(deliveryID)
	if err != nil {
		return err
	}
	switch status {
	case models.DeliveryDelivered, models.DeliveryAcknowledged, models.DeliveryExecuted:
		return nil
	default:
		return fmt.Errorf("%w: %s -> delivered", ErrInvalidTransition, status)
	}
}

// Acknowledge moves a delivered row to acknowledged. Duplicate acks from the
// subscriber are tolerated as silent successes; acking a row that was never
// delivered is an error.
func (l *Ledger) Acknowledge(deliveryID uint) error {
	now := time.Now()
	result := l.db.Model(&models.Delivery{}).
		Where("id = ? AND status = ?", deliveryID, models.DeliveryDelivered).
		Updates(map[string]interface{}{
			"status":          models.DeliveryAcknowledged,
			"acknowledged_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	status, err := l.currentStatus(deliveryID)
	if err != nil {
		return err
	}
	switch status {
	case models.DeliveryAcknowledged, models.DeliveryExecuted:
		// Duplicate or late ack.
		return nil
	default:
		return fmt.Errorf("%w: %s -> acknowledged", ErrInvalidTransition, status)
	}
}

// RecordExecution finishes a delivery as executed or failed. Execution may
// race ahead of an explicit ack, so both delivered and acknowledged rows
// qualify.
func (l *Ledger) RecordExecution(deliveryID uint, success bool, errMsg string) error {
	target := models.DeliveryExecuted
	if !success {
		target = models.DeliveryFailed
	}
	now := time.Now()
	result := l.db.Model(&models.Delivery{}).
		Where("id = ? AND status IN ?", deliveryID, transitionSources[models.DeliveryExecuted]).
		Updates(map[string]interface{}{
			"status":      target,
			"executed_at": now,
			"error":       errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	status, err := l.currentStatus(deliveryID)
	if err != nil {
		return err
	}
	if status == target {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, target)
}

// MarkFailed records a transport failure on a still-pending delivery, e.g.
// after the webhook retry budget is exhausted.
func (l *Ledger) MarkFailed(deliveryID uint, errMsg string) error {
	result := l.db.Model(&models.Delivery{}).
		Where("id = ? AND status = ?", deliveryID, models.DeliveryPending).
		Updates(map[string]interface{}{
			"status": models.DeliveryFailed,
			"error":  errMsg,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	status, err := l.currentStatus(deliveryID)
	if err != nil {
		return err
	}
	if status == models.DeliveryFailed {
		return nil
	}
	return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, status)
}

// RetryFailed flips every failed delivery of a signal back to pending, the
// only backward edge in the lifecycle. Returns how many rows were revived.
func (l *Ledger) RetryFailed(signalID uint) (int64, error) {
	result := l.db.Model(&models.Delivery{}).
		Where("signal_id = ? AND status = ?", signalID, models.DeliveryFailed).
		Updates(map[string]interface{}{
			"status":      models.DeliveryPending,
			"error":       "",
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	return result.RowsAffected, result.Error
}

// ClaimPending atomically claims up to limit pending deliveries for a
// subscriber, oldest signal first, transitioning each to delivered. A row
// grabbed by a concurrent claimant (the other transport) simply drops out of
// the returned batch. limit <= 0 means no limit.
func (l *Ledger) ClaimPending(subscriberID uint, limit int) ([]models.Delivery, error) {
	candidates, err := l.PendingFor(subscriberID, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	claimed := make([]models.Delivery, 0, len(candidates))
	for i := range candidates {
		result := l.db.Model(&models.Delivery{}).
			Where("id = ? AND status = ?", candidates[i].ID, models.DeliveryPending).
			Updates(map[string]interface{}{
				"status":       models.DeliveryDelivered,
				"delivered_at": now,
			})
		if result.Error != nil {
			return claimed, result.Error
		}
		if result.RowsAffected == 0 {
			// Lost the race to another transport; not ours to send.
			continue
		}
		candidates[i].Status = models.DeliveryDelivered
		candidates[i].DeliveredAt = &now
		claimed = append(claimed, candidates[i])
	}
	return claimed, nil
}

// PendingFor lists a subscriber's pending deliveries ordered by signal
// creation time ascending, without claiming them.
func (l *Ledger) PendingFor(subscriberID uint, limit int) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	query := l.db.
		Joins("JOIN signals ON signals.id = deliveries.signal_id").
		Where("deliveries.subscriber_id = ? AND deliveries.status = ?", subscriberID, models.DeliveryPending).
		Order("signals.created_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (l *Ledger) currentStatus(deliveryID uint) (string, error) {
	var delivery models.Delivery
	if err := l.db.Select("status").First(&delivery, deliveryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return delivery.Status, nil
}
