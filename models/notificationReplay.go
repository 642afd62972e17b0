package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
)

// ReplayNotifications puts FAILED and DEAD notification rows of a reference back in the
// dispatch queue with its attempt count reset.
func ReplayNotifications(ctx context.Context, referenceType ReferenceType, referenceId int) ([]*NotificationRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, utils.ErrPermissionDenied
	}

	now := time.Now().UTC()
	res := config.GetDB().WithContext(ctx).
		Model(&NotificationRecord{}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ? AND publish_status IN ?",
			businessId, referenceType, referenceId, []string{OutboxPublishStatusFailed, OutboxPublishStatusDead}).
		Updates(map[string]interface{}{
			"locked_at":          nil,
			"locked_by":          nil,
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    &now,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: no failed notifications for %s %d", utils.ErrUnknownReference, referenceType, referenceId)
	}
	return ListNotifications(ctx, referenceType, referenceId)
}

// ListNotifications returns the outbox rows of one reference, oldest first.
func ListNotifications(ctx context.Context, referenceType ReferenceType, referenceId int) ([]*NotificationRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	var records []*NotificationRecord
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id").
		Find(&records).Error
	return records, err
}
