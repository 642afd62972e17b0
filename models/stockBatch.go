package models

import (
	"context"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/stock_backend/models")

// atomicBatch runs fn as one all-or-nothing unit of work.
//
// Everything fn writes through tx rolls back together when it returns an error:
// transaction records, stock deltas, order-item counters, and document status changes.
// Events raised into the buffer are written to the notification outbox only after commit.
func atomicBatch(ctx context.Context, name string, businessId string, fn func(tx *gorm.DB, events *eventBuffer) error) error {
	ctx, span := tracer.Start(ctx, "models."+name)
	defer span.End()
	span.SetAttributes(attribute.String("business_id", businessId))

	events := newEventBuffer()
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, events)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	flushEvents(ctx, events)
	return nil
}
