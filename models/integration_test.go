package models_test

import (
	"errors"
	"os"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMySQL connects to INTEGRATION_MYSQL_DSN, e.g.
// root:secret@tcp(127.0.0.1:3306)/stock_test?charset=utf8mb4&parseTime=True&loc=UTC
func setupMySQL(t *testing.T) *gorm.DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run against MySQL")
	}
	dsn := os.Getenv("INTEGRATION_MYSQL_DSN")
	if dsn == "" {
		t.Fatal("INTEGRATION_MYSQL_DSN is required")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	if err := config.InstallPlugins(db); err != nil {
		t.Fatalf("install plugins: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() { config.SetDB(prev) })
	return db
}

func TestIntegrationConcurrentOutboundsUnderRowLocks(t *testing.T) {
	setupMySQL(t)
	tn := seedTenant(t, models.NewPlan{Name: "it-" + uuid.NewString()})
	p := tn.product(t, tn.whA, "IT-"+uuid.NewString()[:8], 50, 0)

	const workers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, insufficient := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := models.CreateTransaction(tn.as(tn.managerA), &models.NewTransaction{
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

	if succeeded != 16 || insufficient != workers-16 {
		t.Fatalf("succeeded = %d insufficient = %d, want 16 and %d", succeeded, insufficient, workers-16)
	}
	if got := tn.stock(t, p.ID); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
	drifts, err := models.VerifyLedger(tn.as(tn.admin), tn.businessId)
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("drifts = %+v, want none", drifts)
	}
}

func TestIntegrationQuotaUnderConcurrentCreation(t *testing.T) {
	setupMySQL(t)
	tn := seedTenant(t, models.NewPlan{Name: "it-" + uuid.NewString(), MaxProducts: 3})

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := models.CreateProduct(tn.as(tn.admin), &models.NewProduct{
				WarehouseId: tn.whA.ID,
				Name:        "Quota",
				Sku:         "Q-" + uuid.NewString()[:8],
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created, exceeded := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, utils.ErrQuotaExceeded):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 3 || exceeded != workers-3 {
		t.Fatalf("created = %d exceeded = %d, want 3 and %d", created, exceeded, workers-3)
	}
}
