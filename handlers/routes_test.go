package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/middlewares"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router     *gin.Engine
	warehouse  *models.Warehouse
	adminToken string
	staffToken string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	t.Setenv("API_SECRET", "handler-test-secret")

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

	ctx := context.Background()
	plan, err := models.CreatePlan(ctx, &models.NewPlan{Name: "Handlers"})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Handlers Biz", PlanId: plan.ID})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessId := biz.ID.String()
	bctx := utils.SetBusinessIdInContext(ctx, businessId)
	branch, err := models.CreateBranch(bctx, &models.NewBranch{Name: "Main"})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	wh, err := models.CreateWarehouse(bctx, &models.NewWarehouse{Name: "Main", BranchId: &branch.ID})
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}
	admin, err := models.CreateUser(bctx, &models.NewUser{Name: "Admin", Username: "admin", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("CreateUser admin: %v", err)
	}
	staff, err := models.CreateUser(bctx, &models.NewUser{Name: "Staff", Username: "staff", Role: models.RoleStaff, BranchId: &branch.ID})
	if err != nil {
		t.Fatalf("CreateUser staff: %v", err)
	}

	token := func(u *models.User) string {
		claims := utils.SessionClaims{BusinessId: businessId, UserId: u.ID, UserName: u.Name, Role: string(u.Role)}
		if u.BranchId != nil {
			claims.BranchId = *u.BranchId
		}
		s, err := utils.JwtGenerate(claims)
		if err != nil {
			t.Fatalf("JwtGenerate: %v", err)
		}
		return s
	}

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.SessionMiddleware())
	Register(r.Group("/api"))
	return &apiFixture{
		router:     r,
		warehouse:  wh,
		adminToken: token(admin),
		staffToken: token(staff),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{utils.ErrBusinessIdRequired, http.StatusUnauthorized},
		{utils.ErrPermissionDenied, http.StatusForbidden},
		{fmt.Errorf("%w: products limit 1 reached", utils.ErrQuotaExceeded), http.StatusForbidden},
		{fmt.Errorf("%w: Product 9", utils.ErrUnknownReference), http.StatusNotFound},
		{fmt.Errorf("%w: quantity", utils.ErrValidation), http.StatusUnprocessableEntity},
		{fmt.Errorf("line 2: %w", utils.ErrInsufficientStock), http.StatusConflict},
		{utils.ErrInvalidState, http.StatusConflict},
		{utils.ErrOverReceipt, http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestTransactionRoutes(t *testing.T) {
	f := newAPIFixture(t)

	var product models.Product
	body := fmt.Sprintf(`{"warehouse_id":%d,"name":"Tea","sku":"TEA-1","min_stock":2,"initial_stock":10}`, f.warehouse.ID)
	if code := f.do(t, http.MethodPost, "/api/products", f.adminToken, body, &product); code != http.StatusCreated {
		t.Fatalf("create product = %d", code)
	}
	if product.CurrentStock != 10 || product.Status != models.ApprovalStatusApproved {
		t.Fatalf("product = %+v", product)
	}

	var errBody map[string]interface{}
	body = fmt.Sprintf(`{"product_id":%d,"type":"OUTBOUND","quantity":11}`, product.ID)
	if code := f.do(t, http.MethodPost, "/api/transactions", f.adminToken, body, &errBody); code != http.StatusConflict {
		t.Fatalf("oversell = %d, want 409", code)
	}
	if errBody["code"] != "INSUFFICIENT_STOCK" || errBody["correlation_id"] == "" {
		t.Fatalf("error body = %v", errBody)
	}

	var pending models.StockTransaction
	body = fmt.Sprintf(`{"product_id":%d,"type":"OUTBOUND","quantity":4}`, product.ID)
	if code := f.do(t, http.MethodPost, "/api/transactions", f.staffToken, body, &pending); code != http.StatusCreated {
		t.Fatalf("staff outbound = %d", code)
	}
	if pending.Status != models.ApprovalStatusPending {
		t.Fatalf("status = %s, want PENDING", pending.Status)
	}

	path := fmt.Sprintf("/api/transactions/%d/process", pending.ID)
	if code := f.do(t, http.MethodPost, path, f.staffToken, `{"action":"APPROVE"}`, nil); code != http.StatusForbidden {
		t.Fatalf("staff approve = %d, want 403", code)
	}
	var approved models.StockTransaction
	if code := f.do(t, http.MethodPost, path, f.adminToken, `{"action":"APPROVE"}`, &approved); code != http.StatusOK {
		t.Fatalf("admin approve = %d", code)
	}
	if approved.Status != models.ApprovalStatusApproved || approved.StockAfter == nil || *approved.StockAfter != 6 {
		t.Fatalf("approved = %+v", approved)
	}

	var listed []models.StockTransaction
	if code := f.do(t, http.MethodGet, fmt.Sprintf("/api/transactions?product_id=%d", product.ID), f.adminToken, "", &listed); code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	if len(listed) != 2 {
		t.Fatalf("transactions = %d, want opening and outbound", len(listed))
	}

	var drift map[string]interface{}
	if code := f.do(t, http.MethodGet, "/api/ledger/verify", f.adminToken, "", &drift); code != http.StatusOK {
		t.Fatalf("verify = %d", code)
	}
	if drift["consistent"] != true {
		t.Fatalf("verify = %v", drift)
	}
	if code := f.do(t, http.MethodGet, "/api/ledger/verify", f.staffToken, "", nil); code != http.StatusForbidden {
		t.Fatalf("staff verify = %d, want 403", code)
	}
}

func TestRequestErrors(t *testing.T) {
	f := newAPIFixture(t)

	if code := f.do(t, http.MethodGet, "/api/products", "", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d, want 401", code)
	}
	if code := f.do(t, http.MethodGet, "/api/products/abc", f.adminToken, "", nil); code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", code)
	}
	if code := f.do(t, http.MethodGet, "/api/products/999", f.adminToken, "", nil); code != http.StatusNotFound {
		t.Fatalf("missing product = %d, want 404", code)
	}
	if code := f.do(t, http.MethodPost, "/api/transactions", f.adminToken, `{"type":"OUTBOUND"}`, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid body = %d, want 422", code)
	}
	if code := f.do(t, http.MethodPost, "/api/transactions", f.adminToken, `{`, nil); code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", code)
	}
	if code := f.do(t, http.MethodPost, "/api/branches", f.staffToken, `{"name":"Side"}`, nil); code != http.StatusForbidden {
		t.Fatalf("staff create branch = %d, want 403", code)
	}
	if code := f.do(t, http.MethodPost, "/api/branches", f.adminToken, `{"name":"Side"}`, nil); code != http.StatusCreated {
		t.Fatalf("admin create branch = %d, want 201", code)
	}
}

func TestReplayWithoutFailedNotificationsIsNotFound(t *testing.T) {
	f := newAPIFixture(t)
	var body map[string]interface{}
	if code := f.do(t, http.MethodPost, "/api/notifications/PRODUCT/99999/replay", f.adminToken, "", &body); code != http.StatusNotFound {
		t.Fatalf("replay status = %d, want 404 (%v)", code, body)
	}
}
