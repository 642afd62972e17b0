package models_test

import (
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
)

func TestCaseInboundByAutoApprovingActor(t *testing.T) {
	db := setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.productWith(t, models.NewProduct{
		WarehouseId:  tn.whA.ID,
		Name:         "Cola 330ml",
		Sku:          "COLA-330",
		MinStock:     10,
		UnitType:     models.UnitTypeCase,
		ItemsPerCase: 12,
		InitialStock: 5,
	})
	if p.CurrentStock != 5 {
		t.Fatalf("opening stock = %d, want 5", p.CurrentStock)
	}

	txn, err := models.CreateTransaction(tn.as(tn.autoStaffA), &models.NewTransaction{
		ProductId: p.ID,
		Type:      models.TransactionTypeInbound,
		Quantity:  2,
		Unit:      models.UnitTypeCase,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if txn.Status != models.ApprovalStatusApproved || txn.Quantity != 24 || txn.DeclaredQuantity != 2 {
		t.Fatalf("txn = %+v, want APPROVED quantity 24 declared 2", txn)
	}
	if txn.StockAfter == nil || *txn.StockAfter != 29 {
		t.Fatalf("stock_after = %v, want 29", txn.StockAfter)
	}
	if got := tn.stock(t, p.ID); got != 29 {
		t.Fatalf("current stock = %d, want 29", got)
	}
	if n := countRows[models.StockTransaction](t, db, "product_id = ? AND origin = ?", p.ID, models.MovementOriginDirect); n != 1 {
		t.Fatalf("direct transactions = %d, want 1", n)
	}
}

func TestOutboundBeyondStockLeavesNoTrace(t *testing.T) {
	db := setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "RICE-5KG", 30, 0)

	_, err := models.CreateTransaction(tn.as(tn.admin), &models.NewTransaction{
		ProductId: p.ID,
		Type:      models.TransactionTypeOutbound,
		Quantity:  50,
	})
	if !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	if got := tn.stock(t, p.ID); got != 30 {
		t.Fatalf("current stock = %d, want 30", got)
	}
	if n := countRows[models.StockTransaction](t, db, "product_id = ? AND origin = ?", p.ID, models.MovementOriginDirect); n != 0 {
		t.Fatalf("direct transactions = %d, want 0", n)
	}
}

func TestPendingOutboundIsCheckedOnApproval(t *testing.T) {
	setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "OIL-1L", 30, 0)

	txn, err := models.CreateTransaction(tn.as(tn.staffA), &models.NewTransaction{
		ProductId: p.ID,
		Type:      models.TransactionTypeOutbound,
		Quantity:  50,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if txn.Status != models.ApprovalStatusPending || txn.AppliedAt != nil {
		t.Fatalf("txn = %+v, want unapplied PENDING", txn)
	}
	if got := tn.stock(t, p.ID); got != 30 {
		t.Fatalf("current stock = %d, want 30", got)
	}

	if _, err := models.ProcessTransaction(tn.as(tn.managerA), txn.ID, models.ProcessActionApprove); !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("approve err = %v, want ErrInsufficientStock", err)
	}
	still, err := models.GetTransaction(tn.as(tn.admin), txn.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if still.Status != models.ApprovalStatusPending {
		t.Fatalf("status = %s, want PENDING", still.Status)
	}

	rejected, err := models.ProcessTransaction(tn.as(tn.managerA), txn.ID, models.ProcessActionReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.ApprovalStatusRejected {
		t.Fatalf("status = %s, want REJECTED", rejected.Status)
	}
	if got := tn.stock(t, p.ID); got != 30 {
		t.Fatalf("current stock = %d, want 30", got)
	}
}

func TestProcessTransactionOnlyOnce(t *testing.T) {
	setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "SUGAR-1KG", 10, 0)

	txn, err := models.CreateTransaction(tn.as(tn.staffA), &models.NewTransaction{
		ProductId: p.ID,
		Type:      models.TransactionTypeWastage,
		Quantity:  4,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if _, err := models.ProcessTransaction(tn.as(tn.staffA), txn.ID, models.ProcessActionApprove); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("staff approve err = %v, want ErrPermissionDenied", err)
	}
	approved, err := models.ProcessTransaction(tn.as(tn.managerA), txn.ID, models.ProcessActionApprove)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.ApprovalStatusApproved || approved.StockAfter == nil || *approved.StockAfter != 6 {
		t.Fatalf("approved = %+v, want APPROVED with stock_after 6", approved)
	}
	if _, err := models.ProcessTransaction(tn.as(tn.managerA), txn.ID, models.ProcessActionApprove); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("second approve err = %v, want ErrInvalidState", err)
	}
	if got := tn.stock(t, p.ID); got != 6 {
		t.Fatalf("current stock = %d, want 6", got)
	}
}

func TestMarkTransactionPaid(t *testing.T) {
	setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "FLOUR-1KG", 0, 0)

	txn, err := models.CreateTransaction(tn.as(tn.admin), &models.NewTransaction{
		ProductId:  p.ID,
		Type:       models.TransactionTypeInbound,
		Quantity:   10,
		SupplierId: &tn.supplier.ID,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if txn.IsPaid {
		t.Fatal("credit purchase should start unpaid")
	}
	paid, err := models.MarkTransactionPaid(tn.as(tn.admin), txn.ID, nil)
	if err != nil {
		t.Fatalf("MarkTransactionPaid: %v", err)
	}
	if !paid.IsPaid || paid.PaymentDate == nil {
		t.Fatalf("paid = %+v, want paid with a date", paid)
	}
	if _, err := models.MarkTransactionPaid(tn.as(tn.admin), txn.ID, nil); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("second pay err = %v, want ErrInvalidState", err)
	}

	cash, err := models.CreateTransaction(tn.as(tn.admin), &models.NewTransaction{
		ProductId: p.ID,
		Type:      models.TransactionTypeInbound,
		Quantity:  1,
		IsCash:    true,
	})
	if err != nil {
		t.Fatalf("CreateTransaction cash: %v", err)
	}
	if !cash.IsPaid || cash.PaymentDate == nil {
		t.Fatalf("cash = %+v, want paid on creation", cash)
	}
}

func TestCreateTransactionRejectsForeignTenantProduct(t *testing.T) {
	setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	other := seedTenant(t, models.NewPlan{Name: "Other"})
	p := tn.product(t, tn.whA, "TEA-100", 5, 0)

	_, err := models.CreateTransaction(other.as(other.admin), &models.NewTransaction{
		ProductId: p.ID,
		Type:      models.TransactionTypeInbound,
		Quantity:  1,
	})
	if !errors.Is(err, utils.ErrUnknownReference) {
		t.Fatalf("err = %v, want ErrUnknownReference", err)
	}
	if _, err := models.GetProduct(other.as(other.admin), p.ID); !errors.Is(err, utils.ErrUnknownReference) {
		t.Fatalf("GetProduct err = %v, want ErrUnknownReference", err)
	}
	if got := tn.stock(t, p.ID); got != 5 {
		t.Fatalf("current stock = %d, want 5", got)
	}
}

func TestConcurrentOutboundsNeverOversell(t *testing.T) {
	setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "WATER-1L", 20, 0)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := models.CreateTransaction(tn.as(tn.admin), &models.NewTransaction{
				ProductId: p.ID,
				Type:      models.TransactionTypeOutbound,
				Quantity:  3,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, utils.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 6 || insufficient != 4 {
		t.Fatalf("succeeded=%d insufficient=%d, want 6 and 4", succeeded, insufficient)
	}
	if got := tn.stock(t, p.ID); got != 2 {
		t.Fatalf("current stock = %d, want 2", got)
	}
}

func TestLedgerReplayMatchesCurrentStock(t *testing.T) {
	db := setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	a := tn.product(t, tn.whA, "SKU-A", 12, 0)
	b := tn.product(t, tn.whB, "SKU-B", 0, 0)

	admin := tn.as(tn.admin)
	moves := []models.NewTransaction{
		{ProductId: a.ID, Type: models.TransactionTypeOutbound, Quantity: 5},
		{ProductId: a.ID, Type: models.TransactionTypeWastage, Quantity: 2},
		{ProductId: b.ID, Type: models.TransactionTypeInbound, Quantity: 9},
		{ProductId: b.ID, Type: models.TransactionTypeOutbound, Quantity: 40},
	}
	for _, m := range moves {
		m := m
		_, _ = models.CreateTransaction(admin, &m)
	}
	pending, err := models.CreateTransaction(tn.as(tn.staffA), &models.NewTransaction{ProductId: a.ID, Type: models.TransactionTypeInbound, Quantity: 100})
	if err != nil {
		t.Fatalf("CreateTransaction pending: %v", err)
	}
	if pending.Status != models.ApprovalStatusPending {
		t.Fatalf("status = %s, want PENDING", pending.Status)
	}

	drifts, err := models.VerifyLedger(admin, tn.businessId)
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("drifts = %+v, want none", drifts)
	}
	if tn.stock(t, a.ID) != 5 || tn.stock(t, b.ID) != 9 {
		t.Fatalf("stocks = %d/%d, want 5/9", tn.stock(t, a.ID), tn.stock(t, b.ID))
	}

	if err := db.Model(&models.Product{}).Where("id = ?", a.ID).Update("current_stock", 77).Error; err != nil {
		t.Fatalf("corrupt stock: %v", err)
	}
	drifts, err = models.VerifyLedger(admin, tn.businessId)
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	if len(drifts) != 1 || drifts[0].ProductId != a.ID || drifts[0].ReplayedStock != 5 || drifts[0].CurrentStock != 77 {
		t.Fatalf("drifts = %+v, want product %d at 77 replaying to 5", drifts, a.ID)
	}
	fixed, err := models.RebuildLedger(admin, tn.businessId)
	if err != nil {
		t.Fatalf("RebuildLedger: %v", err)
	}
	if len(fixed) != 1 || tn.stock(t, a.ID) != 5 {
		t.Fatalf("fixed = %+v stock = %d, want one fix back to 5", fixed, tn.stock(t, a.ID))
	}
}

func TestPendingMovementQueuesApprovalNotification(t *testing.T) {
	db := setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "SOAP-1", 15, 10)

	txn, err := models.CreateTransaction(tn.as(tn.staffA), &models.NewTransaction{ProductId: p.ID, Type: models.TransactionTypeOutbound, Quantity: 1})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	records, err := models.ListNotifications(tn.as(tn.admin), models.ReferenceTypeTransaction, txn.ID)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(records) != 1 || records[0].EventType != models.EventTypeApprovalRequired {
		t.Fatalf("records = %+v, want one APPROVAL_REQUIRED", records)
	}
	if got := records[0].Recipients; len(got) != 1 || got[0] != tn.managerA.ID {
		t.Fatalf("recipients = %v, want branch A manager %d", got, tn.managerA.ID)
	}

	if _, err := models.CreateTransaction(tn.as(tn.admin), &models.NewTransaction{ProductId: p.ID, Type: models.TransactionTypeOutbound, Quantity: 6}); err != nil {
		t.Fatalf("CreateTransaction outbound: %v", err)
	}
	critical := countRows[models.NotificationRecord](t, db, "event_type = ? AND reference_type = ? AND reference_id = ?",
		models.EventTypeCriticalStock, models.ReferenceTypeProduct, p.ID)
	if critical != 1 {
		t.Fatalf("critical stock records = %d, want 1", critical)
	}
}
