package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// NotificationRecord is the outbox row for one stock event.
// Rows are written after the business transaction commits and published by the notification dispatcher.
type NotificationRecord struct {
	ID               int           `gorm:"primary_key;index:idx_notification_dispatch,priority:3" json:"id"`
	BusinessId       string        `gorm:"size:36;not null;index" json:"business_id"`
	EventType        EventType     `gorm:"size:30;not null" json:"event_type"`
	ReferenceType    ReferenceType `gorm:"size:30;not null" json:"reference_type"`
	ReferenceId      int           `gorm:"not null" json:"reference_id"`
	ProductId        int           `gorm:"default:0" json:"product_id"`
	Recipients       []int         `gorm:"serializer:json;type:text" json:"recipients"`
	Payload          []byte        `gorm:"type:blob" json:"payload"`
	CorrelationId    string        `gorm:"size:64" json:"correlation_id"`
	PublishStatus    string        `gorm:"size:20;index;not null;default:'PENDING';index:idx_notification_dispatch,priority:1" json:"publish_status"`
	PublishAttempts  int           `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time    `gorm:"index:idx_notification_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time    `json:"locked_at"`
	LockedBy         *string       `gorm:"size:100" json:"locked_by"`
	LastPublishError *string       `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time    `json:"published_at"`
	PubSubMessageId  *string       `gorm:"size:255" json:"pubsub_message_id"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (r NotificationRecord) ToMessage() config.NotificationMessage {
	return config.NotificationMessage{
		ID:            r.ID,
		BusinessId:    r.BusinessId,
		EventType:     string(r.EventType),
		ReferenceType: string(r.ReferenceType),
		ReferenceId:   r.ReferenceId,
		Recipients:    r.Recipients,
		Payload:       json.RawMessage(r.Payload),
		CorrelationId: r.CorrelationId,
		OccurredAt:    r.CreatedAt,
	}
}

// stockEvent is a typed domain event. Recipients are resolved when the event is flushed.
type stockEvent struct {
	Type          EventType
	BusinessId    string
	ReferenceType ReferenceType
	ReferenceId   int
	ProductId     int
	BranchId      *int
	// Recipients overrides audience resolution (e.g. the requester of a procurement request).
	Recipients []int
	Payload    map[string]interface{}
}

func (e stockEvent) key() string {
	b, _ := json.Marshal([]interface{}{e.Type, e.ReferenceType, e.ReferenceId, e.ProductId})
	return string(b)
}

// eventBuffer collects events raised inside an atomic batch. Nothing is emitted
// unless the batch commits, and one reference raises one event of each type.
type eventBuffer struct {
	events []stockEvent
	seen   map[string]struct{}
}

func newEventBuffer() *eventBuffer {
	return &eventBuffer{seen: map[string]struct{}{}}
}

func (b *eventBuffer) add(e stockEvent) {
	if b == nil {
		return
	}
	k := e.key()
	if _, ok := b.seen[k]; ok {
		return
	}
	b.seen[k] = struct{}{}
	b.events = append(b.events, e)
}

func (b *eventBuffer) approvalRequired(businessId string, refType ReferenceType, refId int, product *Product, payload map[string]interface{}) {
	b.add(stockEvent{
		Type:          EventTypeApprovalRequired,
		BusinessId:    businessId,
		ReferenceType: refType,
		ReferenceId:   refId,
		ProductId:     product.ID,
		Payload:       payload,
	})
}

func (b *eventBuffer) criticalStock(businessId string, product *Product) {
	b.add(stockEvent{
		Type:          EventTypeCriticalStock,
		BusinessId:    businessId,
		ReferenceType: ReferenceTypeProduct,
		ReferenceId:   product.ID,
		ProductId:     product.ID,
		Payload: map[string]interface{}{
			"sku":           product.Sku,
			"name":          product.Name,
			"current_stock": product.CurrentStock,
			"min_stock":     product.MinStock,
		},
	})
}

// flushEvents writes buffered events to the outbox. Failures are logged and never
// surface to the caller: the stock change has already committed.
func flushEvents(ctx context.Context, buf *eventBuffer) {
	if buf == nil || len(buf.events) == 0 || !config.NotificationsEnabled() {
		return
	}
	logger := config.GetLogger()
	db := config.GetDB().WithContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	for _, e := range buf.events {
		recipients, err := resolveRecipients(db, e)
		if err != nil {
			config.LogError(logger, "Notification", "flushEvents", "resolve recipients", e.key(), err)
			continue
		}
		payload, err := utils.MarshalToJSON(e.Payload)
		if err != nil {
			config.LogError(logger, "Notification", "flushEvents", "marshal payload", e.key(), err)
			continue
		}
		record := NotificationRecord{
			BusinessId:    e.BusinessId,
			EventType:     e.Type,
			ReferenceType: e.ReferenceType,
			ReferenceId:   e.ReferenceId,
			ProductId:     e.ProductId,
			Recipients:    recipients,
			Payload:       []byte(payload),
			CorrelationId: correlationId,
			PublishStatus: OutboxPublishStatusPending,
		}
		if err := db.Create(&record).Error; err != nil {
			config.LogError(logger, "Notification", "flushEvents", "insert outbox record", e.key(), err)
		}
	}
}

func resolveRecipients(db *gorm.DB, e stockEvent) ([]int, error) {
	if len(e.Recipients) > 0 {
		return e.Recipients, nil
	}
	branchId := e.BranchId
	if branchId == nil && e.ProductId > 0 {
		var product Product
		if err := db.Select("id", "warehouse_id").
			Where("business_id = ?", e.BusinessId).
			First(&product, e.ProductId).Error; err != nil {
			return nil, err
		}
		id, err := warehouseBranchId(db, e.BusinessId, product.WarehouseId)
		if err != nil {
			return nil, err
		}
		branchId = id
	}

	switch e.Type {
	case EventTypeCriticalStock:
		admins, err := adminIds(db, e.BusinessId)
		if err != nil {
			return nil, err
		}
		if branchId == nil {
			return admins, nil
		}
		managers, err := approverIds(db, e.BusinessId, branchId)
		if err != nil {
			return nil, err
		}
		return utils.UniqueSlice(append(managers, admins...)), nil
	default:
		return approverIds(db, e.BusinessId, branchId)
	}
}

// EmitCriticalStockEvents queues a CRITICAL_STOCK event for every approved product at or
// below its minimum. Used by the scheduled sweep; returns how many products were flagged.
func EmitCriticalStockEvents(ctx context.Context, businessId string) (int, error) {
	if businessId == "" {
		return 0, utils.ErrBusinessIdRequired
	}
	var products []*Product
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND status = ? AND current_stock <= min_stock", businessId, ApprovalStatusApproved).
		Order("id").
		Find(&products).Error
	if err != nil {
		return 0, err
	}
	buf := newEventBuffer()
	for _, p := range products {
		buf.criticalStock(businessId, p)
	}
	flushEvents(ctx, buf)
	return len(products), nil
}
