package models

import (
	"bitbucket.org/mmdatafocus/stock_backend/config"
	"gorm.io/gorm"
)

func allModels() []interface{} {
	return []interface{}{
		&Plan{}, &Business{}, &Branch{}, &Warehouse{}, &Department{}, &User{}, &Supplier{},
		&Product{}, &ProductSupplier{},
		&StockTransaction{}, &StockForm{},
		&PurchaseOrder{}, &PurchaseOrderItem{},
		&ProcurementRequest{},
		&NotificationRecord{},
	}
}

// Migrate creates or updates every table on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		config.GetLogger().WithError(err).Fatal("migration failed")
	}
}
