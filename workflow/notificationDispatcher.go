package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PublishFunc delivers one notification and returns the broker message id.
type PublishFunc func(ctx context.Context, msg config.NotificationMessage) (string, error)

// NotificationDispatcher drains the notification outbox to Pub/Sub.
// Several dispatchers may run at once; rows are claimed with SKIP LOCKED.
type NotificationDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string
	Publish      PublishFunc

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type DispatchStats struct {
	Claimed int
	Sent    int
	Failed  int
	Dead    int
}

func NewNotificationDispatcher(db *gorm.DB, logger *logrus.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Publish:        config.PublishNotificationWithResult,
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
	}
}

func (d *NotificationDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && d.Logger != nil {
			config.LogError(d.Logger, "NotificationDispatcher", "Run", "dispatch batch", d.DispatcherID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// Backoff is the wait before retry number attempt+1: InitialBackoff doubled per
// previous attempt, capped at MaxBackoff.
func (d *NotificationDispatcher) Backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if d.MaxBackoff > 0 && backoff >= d.MaxBackoff {
			return d.MaxBackoff
		}
	}
	return backoff
}

// DispatchOnce claims one batch of due records and publishes them.
func (d *NotificationDispatcher) DispatchOnce(ctx context.Context) (DispatchStats, error) {
	var stats DispatchStats
	if d.DB == nil {
		return stats, nil
	}
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.NotificationRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Due PENDING/FAILED rows, plus PROCESSING rows whose dispatcher died mid-batch.
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.NotificationRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.NotificationRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     claimed[i].PublishStatus,
				"locked_at":          claimed[i].LockedAt,
				"locked_by":          claimed[i].LockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(claimed)

	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			stats.Dead++
			continue
		}
		pubID, pubErr := d.Publish(ctx, rec.ToMessage())
		if pubErr != nil {
			if d.markPublishFailed(ctx, rec, pubErr) {
				stats.Dead++
			} else {
				stats.Failed++
			}
			continue
		}
		d.markPublishSent(ctx, rec.ID, pubID)
		stats.Sent++
	}
	return stats, nil
}

func (d *NotificationDispatcher) markPublishSent(ctx context.Context, recordID int, pubsubMsgID string) {
	now := time.Now().UTC()
	id := pubsubMsgID
	err := d.DB.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &id,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
	if err != nil && d.Logger != nil {
		config.LogError(d.Logger, "NotificationDispatcher", "markPublishSent", "update record", recordID, err)
	}
}

// markPublishFailed schedules a retry, or marks the record DEAD once attempts run out.
// It reports whether the record went DEAD.
func (d *NotificationDispatcher) markPublishFailed(ctx context.Context, rec models.NotificationRecord, pubErr error) bool {
	db := d.DB.WithContext(ctx)
	msg := pubErr.Error()
	fields := logrus.Fields{
		"field":       "NotificationDispatcher",
		"business_id": rec.BusinessId,
		"record_id":   rec.ID,
		"event_type":  rec.EventType,
		"attempt":     rec.PublishAttempts,
	}

	if d.MaxAttempts > 0 && rec.PublishAttempts >= d.MaxAttempts {
		err := db.Model(&models.NotificationRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error
		if err != nil && d.Logger != nil {
			config.LogError(d.Logger, "NotificationDispatcher", "markPublishFailed", "mark dead", rec.ID, err)
		}
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("notification moved to DEAD after max attempts: " + msg)
		}
		return true
	}

	next := time.Now().UTC().Add(d.Backoff(rec.PublishAttempts))
	err := db.Model(&models.NotificationRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	if err != nil && d.Logger != nil {
		config.LogError(d.Logger, "NotificationDispatcher", "markPublishFailed", "schedule retry", rec.ID, err)
	}
	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Error("notification publish failed: " + msg)
	}
	return false
}
