package models_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
)

func newRequest(t *testing.T, ctx context.Context, productId int, qty int) *models.ProcurementRequest {
	t.Helper()
	r, err := models.CreateProcurementRequest(ctx, &models.NewProcurementRequest{ProductId: productId, Quantity: qty, Reason: "running low"})
	if err != nil {
		t.Fatalf("CreateProcurementRequest: %v", err)
	}
	return r
}

func TestProcurementRequestLifecycleDeliversOnce(t *testing.T) {
	db := setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "FLOUR-1", 2, 0)
	r := newRequest(t, tn.as(tn.staffA), p.ID, 20)
	if r.Status != models.ProcurementStatusPending || r.BranchId == nil || *r.BranchId != tn.branchA.ID {
		t.Fatalf("request = %+v, want PENDING in branch A", r)
	}

	manager := tn.as(tn.managerA)
	if _, err := models.DeliverProcurementRequest(manager, r.ID); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("deliver pending err = %v, want ErrInvalidState", err)
	}
	if _, err := models.UpdateProcurementRequest(tn.as(tn.staffA), r.ID, &models.ProcurementRequestUpdate{Status: models.ProcurementStatusApproved}); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("staff approve err = %v, want ErrPermissionDenied", err)
	}
	if _, err := models.UpdateProcurementRequest(tn.as(tn.managerB), r.ID, &models.ProcurementRequestUpdate{Status: models.ProcurementStatusApproved}); !errors.Is(err, utils.ErrPermissionDenied) {
		t.Fatalf("other branch approve err = %v, want ErrPermissionDenied", err)
	}

	note := "ordered from Acme"
	for _, status := range []models.ProcurementStatus{models.ProcurementStatusApproved, models.ProcurementStatusOrdered} {
		updated, err := models.UpdateProcurementRequest(manager, r.ID, &models.ProcurementRequestUpdate{Status: status, AdminNote: &note})
		if err != nil {
			t.Fatalf("move to %s: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("status = %s, want %s", updated.Status, status)
		}
	}
	if got := tn.stock(t, p.ID); got != 2 {
		t.Fatalf("stock before delivery = %d, want 2", got)
	}

	delivered, err := models.DeliverProcurementRequest(manager, r.ID)
	if err != nil {
		t.Fatalf("DeliverProcurementRequest: %v", err)
	}
	if delivered.Status != models.ProcurementStatusDelivered || delivered.TransactionId == nil || delivered.DeliveredAt == nil {
		t.Fatalf("request = %+v, want DELIVERED with a transaction", delivered)
	}
	if got := tn.stock(t, p.ID); got != 22 {
		t.Fatalf("stock = %d, want 22", got)
	}
	if _, err := models.DeliverProcurementRequest(manager, r.ID); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("second deliver err = %v, want ErrInvalidState", err)
	}
	if n := countRows[models.StockTransaction](t, db, "procurement_request_id = ?", r.ID); n != 1 {
		t.Fatalf("request transactions = %d, want 1", n)
	}
	txn, err := models.GetTransaction(manager, *delivered.TransactionId)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if txn.Type != models.TransactionTypeInbound || txn.Quantity != 20 || txn.Status != models.ApprovalStatusApproved {
		t.Fatalf("transaction = %+v, want APPROVED INBOUND of 20", txn)
	}
}

func TestProcurementRequestRejectIsTerminal(t *testing.T) {
	setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "SALT-1", 0, 0)
	r := newRequest(t, tn.as(tn.staffA), p.ID, 5)

	if _, err := models.UpdateProcurementRequest(tn.as(tn.admin), r.ID, &models.ProcurementRequestUpdate{Status: models.ProcurementStatusRejected}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	for _, status := range []models.ProcurementStatus{models.ProcurementStatusApproved, models.ProcurementStatusPending, models.ProcurementStatusRejected} {
		_, err := models.UpdateProcurementRequest(tn.as(tn.admin), r.ID, &models.ProcurementRequestUpdate{Status: status})
		if !errors.Is(err, utils.ErrInvalidState) {
			t.Fatalf("REJECTED -> %s err = %v, want ErrInvalidState", status, err)
		}
	}
}

func TestBulkApproveSkipsOtherBranches(t *testing.T) {
	setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	pa := tn.product(t, tn.whA, "BULK-A", 0, 0)
	pb := tn.product(t, tn.whB, "BULK-B", 0, 0)

	var ids, branchB []int
	for i := 0; i < 3; i++ {
		ids = append(ids, newRequest(t, tn.as(tn.staffA), pa.ID, 1).ID)
	}
	for i := 0; i < 2; i++ {
		r := newRequest(t, tn.as(tn.admin), pb.ID, 1)
		ids = append(ids, r.ID)
		branchB = append(branchB, r.ID)
	}

	res, err := models.BulkUpdateProcurementRequests(tn.as(tn.managerA), append(ids, 99999), models.ProcurementStatusApproved)
	if err != nil {
		t.Fatalf("BulkUpdateProcurementRequests: %v", err)
	}
	if res.Requested != 6 || res.Count != 3 || len(res.Updated) != 3 {
		t.Fatalf("result = %+v, want 6 requested and 3 updated", res)
	}
	reasons := map[string]int{}
	for _, s := range res.Skipped {
		reasons[s.Reason]++
	}
	if reasons[models.BulkSkipOutOfScope] != 2 || reasons[models.BulkSkipNotFound] != 1 {
		t.Fatalf("skipped = %+v, want 2 OUT_OF_SCOPE and 1 NOT_FOUND", res.Skipped)
	}
	for _, id := range branchB {
		r, err := models.GetProcurementRequest(tn.as(tn.admin), id)
		if err != nil {
			t.Fatalf("GetProcurementRequest: %v", err)
		}
		if r.Status != models.ProcurementStatusPending {
			t.Fatalf("branch B request %d = %s, want PENDING", id, r.Status)
		}
	}

	visible, err := models.ListProcurementRequests(tn.as(tn.managerB), nil)
	if err != nil {
		t.Fatalf("ListProcurementRequests: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("manager B sees %d requests, want 2", len(visible))
	}
}

func TestBulkDeliverAbortsOnInvalidTransition(t *testing.T) {
	db := setupDB(t)
	tn := seedTenant(t, models.NewPlan{})
	p := tn.product(t, tn.whA, "BULK-D", 0, 0)
	ordered := newRequest(t, tn.as(tn.staffA), p.ID, 4)
	pending := newRequest(t, tn.as(tn.staffA), p.ID, 6)
	admin := tn.as(tn.admin)
	for _, status := range []models.ProcurementStatus{models.ProcurementStatusApproved, models.ProcurementStatusOrdered} {
		if _, err := models.UpdateProcurementRequest(admin, ordered.ID, &models.ProcurementRequestUpdate{Status: status}); err != nil {
			t.Fatalf("move to %s: %v", status, err)
		}
	}

	_, err := models.BulkUpdateProcurementRequests(admin, []int{ordered.ID, pending.ID}, models.ProcurementStatusDelivered)
	if !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if got := tn.stock(t, p.ID); got != 0 {
		t.Fatalf("stock = %d, want 0", got)
	}
	if n := countRows[models.StockTransaction](t, db, "origin = ?", models.MovementOriginRequest); n != 0 {
		t.Fatalf("request transactions = %d, want 0", n)
	}
	r, err := models.GetProcurementRequest(admin, ordered.ID)
	if err != nil {
		t.Fatalf("GetProcurementRequest: %v", err)
	}
	if r.Status != models.ProcurementStatusOrdered {
		t.Fatalf("status = %s, want ORDERED", r.Status)
	}

	res, err := models.BulkUpdateProcurementRequests(admin, []int{ordered.ID}, models.ProcurementStatusDelivered)
	if err != nil {
		t.Fatalf("bulk deliver: %v", err)
	}
	if res.Count != 1 || tn.stock(t, p.ID) != 4 {
		t.Fatalf("count = %d stock = %d, want 1 and 4", res.Count, tn.stock(t, p.ID))
	}
}
