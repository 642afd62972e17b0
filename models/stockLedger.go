package models

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApplyStockDelta is the only write path for products.current_stock.
// It locks the product row, rejects a result below zero, and writes the new value back.
// Callers must pass the transaction that owns the surrounding batch.
func ApplyStockDelta(tx *gorm.DB, businessId string, productId int, delta int) (int, error) {
	product, err := applyStockDelta(tx, businessId, productId, delta)
	if err != nil {
		return 0, err
	}
	return product.CurrentStock, nil
}

func applyStockDelta(tx *gorm.DB, businessId string, productId int, delta int) (*Product, error) {
	var product Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "business_id", "warehouse_id", "name", "sku", "current_stock", "min_stock").
		Where("business_id = ?", businessId).
		First(&product, productId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product %d", utils.ErrUnknownReference, productId)
		}
		return nil, err
	}
	if delta == 0 {
		return &product, nil
	}

	next := product.CurrentStock + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: product %d has %d, requested %d", utils.ErrInsufficientStock, productId, product.CurrentStock, -delta)
	}
	if err := tx.Model(&Product{}).
		Where("business_id = ? AND id = ?", businessId, productId).
		Update("current_stock", next).Error; err != nil {
		return nil, err
	}
	product.CurrentStock = next
	return &product, nil
}

// LockProducts takes row locks on every product of a batch in ascending id order,
// so two batches touching overlapping products cannot deadlock.
// Any id missing from the tenant fails with ErrUnknownReference.
func LockProducts(tx *gorm.DB, businessId string, productIds []int) (map[int]*Product, error) {
	ids := utils.UniqueSlice(productIds)
	sort.Ints(ids)
	result := make(map[int]*Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var products []*Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Order("id").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, fmt.Errorf("%w: product %d", utils.ErrUnknownReference, id)
		}
	}
	return result, nil
}

// LedgerDrift is a product whose stored stock disagrees with its applied transactions.
type LedgerDrift struct {
	ProductId     int    `json:"product_id"`
	Sku           string `json:"sku"`
	CurrentStock  int    `json:"current_stock"`
	ReplayedStock int    `json:"replayed_stock"`
}

type ledgerSum struct {
	ProductId int
	Total     int
}

// replayedStock sums applied transactions per product. Nil productIds means every product.
func replayedStock(tx *gorm.DB, businessId string, productIds []int) (map[int]int, error) {
	q := tx.Model(&StockTransaction{}).
		Select("product_id, SUM(CASE WHEN type = ? THEN quantity ELSE -quantity END) AS total", TransactionTypeInbound).
		Where("business_id = ? AND applied_at IS NOT NULL", businessId)
	if productIds != nil {
		q = q.Where("product_id IN ?", productIds)
	}
	var sums []ledgerSum
	if err := q.Group("product_id").Scan(&sums).Error; err != nil {
		return nil, err
	}
	replayed := make(map[int]int, len(sums))
	for _, s := range sums {
		replayed[s.ProductId] = s.Total
	}
	return replayed, nil
}

// VerifyLedger replays every applied transaction of a tenant and reports products
// whose current_stock differs from the replayed sum.
func VerifyLedger(ctx context.Context, businessId string) ([]LedgerDrift, error) {
	if businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	db := config.GetDB().WithContext(ctx)

	replayed, err := replayedStock(db, businessId, nil)
	if err != nil {
		return nil, err
	}
	var products []Product
	if err := db.Select("id", "sku", "current_stock").
		Where("business_id = ?", businessId).
		Order("id").
		Find(&products).Error; err != nil {
		return nil, err
	}
	var drifts []LedgerDrift
	for _, p := range products {
		if want := replayed[p.ID]; want != p.CurrentStock {
			drifts = append(drifts, LedgerDrift{
				ProductId:     p.ID,
				Sku:           p.Sku,
				CurrentStock:  p.CurrentStock,
				ReplayedStock: want,
			})
		}
	}
	return drifts, nil
}

// RebuildLedger moves every drifted product to its replayed value through ApplyStockDelta
// and returns the corrections it made.
func RebuildLedger(ctx context.Context, businessId string) ([]LedgerDrift, error) {
	drifts, err := VerifyLedger(ctx, businessId)
	if err != nil || len(drifts) == 0 {
		return drifts, err
	}
	ids := make([]int, 0, len(drifts))
	for _, d := range drifts {
		ids = append(ids, d.ProductId)
	}

	var fixed []LedgerDrift
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := LockProducts(tx, businessId, ids)
		if err != nil {
			return err
		}
		// Replay again under the locks so a movement committed after VerifyLedger is counted.
		replayed, err := replayedStock(tx, businessId, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			current := locked[id].CurrentStock
			want := replayed[id]
			if current == want {
				continue
			}
			if _, err := ApplyStockDelta(tx, businessId, id, want-current); err != nil {
				return err
			}
			fixed = append(fixed, LedgerDrift{ProductId: id, Sku: locked[id].Sku, CurrentStock: current, ReplayedStock: want})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fixed, nil
}
