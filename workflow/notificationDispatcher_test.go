package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := config.InstallPlugins(db); err != nil {
		t.Fatalf("install plugins: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(prev)
		_ = sqlDB.Close()
	})
	return db
}

func adminContext(t *testing.T, businessId string) context.Context {
	t.Helper()
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)
	return utils.SetRoleInContext(ctx, string(models.RoleAdmin))
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakePublisher struct {
	mu   sync.Mutex
	fail map[int]bool
	sent []config.NotificationMessage
}

func (p *fakePublisher) publish(_ context.Context, msg config.NotificationMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[msg.ID] {
		return "", errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return "msg-" + time.Now().Format("150405.000000"), nil
}

func insertRecords(t *testing.T, db *gorm.DB, n int) []models.NotificationRecord {
	t.Helper()
	records := make([]models.NotificationRecord, n)
	for i := range records {
		records[i] = models.NotificationRecord{
			BusinessId:    "biz-1",
			EventType:     models.EventTypeCriticalStock,
			ReferenceType: models.ReferenceTypeProduct,
			ReferenceId:   i + 1,
			ProductId:     i + 1,
			Recipients:    []int{1},
			Payload:       []byte(`{"sku":"X"}`),
			PublishStatus: models.OutboxPublishStatusPending,
		}
	}
	if err := db.Create(&records).Error; err != nil {
		t.Fatalf("insert records: %v", err)
	}
	return records
}

func reload(t *testing.T, db *gorm.DB, id int) models.NotificationRecord {
	t.Helper()
	var rec models.NotificationRecord
	if err := db.First(&rec, id).Error; err != nil {
		t.Fatalf("reload %d: %v", id, err)
	}
	return rec
}

func TestBackoffDoublesUntilCap(t *testing.T) {
	d := &NotificationDispatcher{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := d.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestDispatchOncePublishesAndRetries(t *testing.T) {
	db := openTestDB(t)
	records := insertRecords(t, db, 3)
	pub := &fakePublisher{fail: map[int]bool{records[1].ID: true}}

	d := NewNotificationDispatcher(db, quietLogger())
	d.Publish = pub.publish
	d.InitialBackoff = time.Hour

	stats, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if stats.Claimed != 3 || stats.Sent != 2 || stats.Failed != 1 || stats.Dead != 0 {
		t.Fatalf("stats = %+v, want 3 claimed, 2 sent, 1 failed", stats)
	}
	if len(pub.sent) != 2 || pub.sent[0].EventType != string(models.EventTypeCriticalStock) {
		t.Fatalf("published = %+v", pub.sent)
	}

	sent := reload(t, db, records[0].ID)
	if sent.PublishStatus != models.OutboxPublishStatusSent || sent.PublishedAt == nil || sent.LockedBy != nil {
		t.Fatalf("sent record = %+v", sent)
	}
	failed := reload(t, db, records[1].ID)
	if failed.PublishStatus != models.OutboxPublishStatusFailed || failed.PublishAttempts != 1 || failed.NextAttemptAt == nil {
		t.Fatalf("failed record = %+v", failed)
	}
	if failed.LastPublishError == nil || *failed.LastPublishError != "broker unavailable" {
		t.Fatalf("last error = %v", failed.LastPublishError)
	}

	stats, err = d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("second DispatchOnce: %v", err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("claimed %d records before their retry was due", stats.Claimed)
	}
}

func TestDispatchOnceMovesExhaustedRecordsToDead(t *testing.T) {
	db := openTestDB(t)
	records := insertRecords(t, db, 1)
	pub := &fakePublisher{fail: map[int]bool{records[0].ID: true}}

	d := NewNotificationDispatcher(db, quietLogger())
	d.Publish = pub.publish
	d.MaxAttempts = 2
	d.InitialBackoff = 0

	for i := 0; i < 2; i++ {
		if _, err := d.DispatchOnce(context.Background()); err != nil {
			t.Fatalf("DispatchOnce %d: %v", i, err)
		}
	}
	rec := reload(t, db, records[0].ID)
	if rec.PublishStatus != models.OutboxPublishStatusDead || rec.PublishAttempts != 2 {
		t.Fatalf("record = %+v, want DEAD after 2 attempts", rec)
	}

	stats, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("dead record claimed again: %+v", stats)
	}
}

func TestDispatchOnceReclaimsStaleLocks(t *testing.T) {
	db := openTestDB(t)
	records := insertRecords(t, db, 1)
	stale := time.Now().UTC().Add(-time.Hour)
	owner := "crashed-dispatcher"
	if err := db.Model(&models.NotificationRecord{}).Where("id = ?", records[0].ID).Updates(map[string]interface{}{
		"publish_status": models.OutboxPublishStatusProcessing,
		"locked_at":      &stale,
		"locked_by":      &owner,
	}).Error; err != nil {
		t.Fatalf("lock record: %v", err)
	}

	pub := &fakePublisher{}
	d := NewNotificationDispatcher(db, quietLogger())
	d.Publish = pub.publish
	stats, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("stats = %+v, want the stale record sent", stats)
	}
}

func TestSweepLowStockQueuesCriticalEvents(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	plan, err := models.CreatePlan(ctx, &models.NewPlan{Name: "Sweep"})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Sweep Biz", PlanId: plan.ID})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	adminCtx := adminContext(t, biz.ID.String())
	wh, err := models.CreateWarehouse(adminCtx, &models.NewWarehouse{Name: "Main"})
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}
	for _, p := range []models.NewProduct{
		{WarehouseId: wh.ID, Name: "Low", Sku: "LOW", MinStock: 5, InitialStock: 2},
		{WarehouseId: wh.ID, Name: "Fine", Sku: "FINE", MinStock: 5, InitialStock: 50},
	} {
		in := p
		if _, err := models.CreateProduct(adminCtx, &in); err != nil {
			t.Fatalf("CreateProduct %s: %v", in.Sku, err)
		}
	}
	if err := db.Where("1 = 1").Delete(&models.NotificationRecord{}).Error; err != nil {
		t.Fatalf("clear outbox: %v", err)
	}

	n, err := SweepLowStock(ctx, quietLogger())
	if err != nil {
		t.Fatalf("SweepLowStock: %v", err)
	}
	if n != 1 {
		t.Fatalf("flagged = %d, want 1", n)
	}
	var count int64
	if err := db.Model(&models.NotificationRecord{}).
		Where("event_type = ? AND business_id = ?", models.EventTypeCriticalStock, biz.ID.String()).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("critical stock notifications = %d, want 1", count)
	}
}

func TestStartLowStockSweepRejectsBadSchedule(t *testing.T) {
	if _, err := StartLowStockSweep("every tuesday", quietLogger()); err == nil {
		t.Fatal("expected a cron parse error")
	}
}

func TestDispatchOnceLogsFailedStatusUpdates(t *testing.T) {
	db := openTestDB(t)
	insertRecords(t, db, 1)
	logger, hook := logrustest.NewNullLogger()

	d := NewNotificationDispatcher(db, logger)
	d.Publish = func(context.Context, config.NotificationMessage) (string, error) {
		if err := db.Migrator().DropTable(&models.NotificationRecord{}); err != nil {
			t.Fatalf("drop table: %v", err)
		}
		return "", errors.New("broker unavailable")
	}

	stats, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Data["funcName"] == "markPublishFailed" && e.Data["context"] == "schedule retry" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("no markPublishFailed update error logged in %d entries", len(hook.AllEntries()))
	}
}
