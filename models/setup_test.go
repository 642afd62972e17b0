package models_test

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// tenant is one seeded business: two branches with a warehouse each, a supplier,
// an admin, a manager per branch and a branch-A staff member without auto-approval.
type tenant struct {
	businessId string
	branchA    *models.Branch
	branchB    *models.Branch
	whA        *models.Warehouse
	whB        *models.Warehouse
	supplier   *models.Supplier
	admin      *models.User
	managerA   *models.User
	managerB   *models.User
	staffA     *models.User
	autoStaffA *models.User
}

// setupDB points config at a fresh in-memory database with the full schema.
// One connection keeps every statement on the same in-memory database.
func setupDB(t *testing.T) *gorm.DB {
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

func ctxAs(businessId string, u *models.User) context.Context {
	ctx := utils.SetBusinessIdInContext(context.Background(), businessId)
	ctx = utils.SetUserIdInContext(ctx, u.ID)
	ctx = utils.SetUserNameInContext(ctx, u.Name)
	ctx = utils.SetRoleInContext(ctx, string(u.Role))
	ctx = utils.SetCanAutoApproveInContext(ctx, u.CanAutoApprove)
	if u.BranchId != nil {
		ctx = utils.SetBranchIdInContext(ctx, *u.BranchId)
	}
	return ctx
}

func seedTenant(t *testing.T, plan models.NewPlan) *tenant {
	t.Helper()
	ctx := context.Background()
	if plan.Name == "" {
		plan.Name = "Test"
	}
	p, err := models.CreatePlan(ctx, &plan)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Test Biz", PlanId: p.ID})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	tn := &tenant{businessId: biz.ID.String()}
	bctx := utils.SetBusinessIdInContext(ctx, tn.businessId)

	if tn.branchA, err = models.CreateBranch(bctx, &models.NewBranch{Name: "Branch A"}); err != nil {
		t.Fatalf("CreateBranch A: %v", err)
	}
	if tn.branchB, err = models.CreateBranch(bctx, &models.NewBranch{Name: "Branch B"}); err != nil {
		t.Fatalf("CreateBranch B: %v", err)
	}
	if tn.whA, err = models.CreateWarehouse(bctx, &models.NewWarehouse{Name: "Warehouse A", BranchId: &tn.branchA.ID}); err != nil {
		t.Fatalf("CreateWarehouse A: %v", err)
	}
	if tn.whB, err = models.CreateWarehouse(bctx, &models.NewWarehouse{Name: "Warehouse B", BranchId: &tn.branchB.ID}); err != nil {
		t.Fatalf("CreateWarehouse B: %v", err)
	}
	if tn.supplier, err = models.CreateSupplier(bctx, &models.NewSupplier{Name: "Acme Foods"}); err != nil {
		t.Fatalf("CreateSupplier: %v", err)
	}

	users := []struct {
		dest **models.User
		in   models.NewUser
	}{
		{&tn.admin, models.NewUser{Name: "Admin", Username: "admin", Role: models.RoleAdmin}},
		{&tn.managerA, models.NewUser{Name: "Manager A", Username: "manager.a", Role: models.RoleBranchManager, BranchId: &tn.branchA.ID}},
		{&tn.managerB, models.NewUser{Name: "Manager B", Username: "manager.b", Role: models.RoleBranchManager, BranchId: &tn.branchB.ID}},
		{&tn.staffA, models.NewUser{Name: "Staff A", Username: "staff.a", Role: models.RoleStaff, BranchId: &tn.branchA.ID}},
		{&tn.autoStaffA, models.NewUser{Name: "Auto Staff A", Username: "auto.a", Role: models.RoleStaff, BranchId: &tn.branchA.ID, CanAutoApprove: true}},
	}
	for _, u := range users {
		in := u.in
		created, err := models.CreateUser(bctx, &in)
		if err != nil {
			t.Fatalf("CreateUser %s: %v", in.Username, err)
		}
		*u.dest = created
	}
	return tn
}

func (tn *tenant) as(u *models.User) context.Context {
	return ctxAs(tn.businessId, u)
}

// product creates an approved product through the admin with its opening stock.
func (tn *tenant) product(t *testing.T, wh *models.Warehouse, sku string, stock int, minStock int) *models.Product {
	t.Helper()
	return tn.productWith(t, models.NewProduct{
		WarehouseId:  wh.ID,
		Name:         sku,
		Sku:          sku,
		MinStock:     minStock,
		InitialStock: stock,
	})
}

func (tn *tenant) productWith(t *testing.T, in models.NewProduct) *models.Product {
	t.Helper()
	p, err := models.CreateProduct(tn.as(tn.admin), &in)
	if err != nil {
		t.Fatalf("CreateProduct %s: %v", in.Sku, err)
	}
	return p
}

func (tn *tenant) stock(t *testing.T, productId int) int {
	t.Helper()
	p, err := models.GetProduct(tn.as(tn.admin), productId)
	if err != nil {
		t.Fatalf("GetProduct %d: %v", productId, err)
	}
	return p.CurrentStock
}

func countRows[T any](t *testing.T, db *gorm.DB, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(new(T))
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
