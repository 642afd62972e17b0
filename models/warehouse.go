package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
)

type Warehouse struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null;size:36" json:"business_id"`
	BranchId   *int      `gorm:"index" json:"branch_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWarehouse struct {
	BranchId *int   `json:"branch_id"`
	Name     string `json:"name" validate:"required,max=100"`
	Address  string `json:"address"`
}

// Department is a sub-area of a warehouse.
type Department struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null;size:36" json:"business_id"`
	WarehouseId int       `gorm:"index;not null" json:"warehouse_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDepartment struct {
	WarehouseId int    `json:"warehouse_id" validate:"required"`
	Name        string `json:"name" validate:"required,max=100"`
}

func (input *NewWarehouse) validate(tx *gorm.DB, businessId string, id int) error {
	if err := utils.ValidateUniqueTx[Warehouse](tx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	if input.BranchId != nil {
		if err := utils.ValidateResourceIdTx[Branch](tx, businessId, *input.BranchId); err != nil {
			return err
		}
	}
	return nil
}

// CreateWarehouse is quota-gated on the plan's warehouse ceiling.
func CreateWarehouse(ctx context.Context, input *NewWarehouse) (*Warehouse, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	warehouse := Warehouse{
		BusinessId: businessId,
		BranchId:   input.BranchId,
		Name:       input.Name,
		Address:    input.Address,
		IsActive:   utils.NewTrue(),
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := CheckQuota(tx, businessId, QuotaResourceWarehouses); err != nil {
			return err
		}
		if err := input.validate(tx, businessId, 0); err != nil {
			return err
		}
		return tx.Create(&warehouse).Error
	})
	if err != nil {
		return nil, err
	}
	return &warehouse, nil
}

func CreateDepartment(ctx context.Context, input *NewDepartment) (*Department, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	department := Department{
		BusinessId:  businessId,
		WarehouseId: input.WarehouseId,
		Name:        input.Name,
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.ValidateResourceIdTx[Warehouse](tx, businessId, input.WarehouseId); err != nil {
			return err
		}
		return tx.Create(&department).Error
	})
	if err != nil {
		return nil, err
	}
	return &department, nil
}

// warehouseBranchId resolves the branch owning a warehouse. Nil when the warehouse has none.
func warehouseBranchId(tx *gorm.DB, businessId string, warehouseId int) (*int, error) {
	var warehouse Warehouse
	err := tx.Select("id", "branch_id").
		Where("business_id = ? AND id = ?", businessId, warehouseId).
		First(&warehouse).Error
	if err != nil {
		return nil, err
	}
	return warehouse.BranchId, nil
}

// checkProductScope fails with ErrPermissionDenied unless every product's warehouse
// belongs to a branch the actor reaches.
func checkProductScope(tx *gorm.DB, actor Actor, products map[int]*Product) error {
	if actor.IsAdmin() {
		return nil
	}
	branches := make(map[int]*int)
	for _, id := range sortedProductIds(products) {
		product := products[id]
		branchId, ok := branches[product.WarehouseId]
		if !ok {
			var err error
			if branchId, err = warehouseBranchId(tx, actor.BusinessId, product.WarehouseId); err != nil {
				return err
			}
			branches[product.WarehouseId] = branchId
		}
		if !actor.InScope(branchId) {
			return fmt.Errorf("%w: product %d belongs to another branch", utils.ErrPermissionDenied, product.ID)
		}
	}
	return nil
}

func sortedProductIds(products map[int]*Product) []int {
	ids := make([]int, 0, len(products))
	for id := range products {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
