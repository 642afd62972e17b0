package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Plan holds a subscription's resource ceilings. Zero means unlimited.
type Plan struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Name          string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	MaxProducts   int       `gorm:"not null;default:0" json:"max_products"`
	MaxUsers      int       `gorm:"not null;default:0" json:"max_users"`
	MaxWarehouses int       `gorm:"not null;default:0" json:"max_warehouses"`
	MaxBranches   int       `gorm:"not null;default:0" json:"max_branches"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPlan struct {
	Name          string `json:"name" validate:"required,max=100"`
	MaxProducts   int    `json:"max_products" validate:"gte=0"`
	MaxUsers      int    `json:"max_users" validate:"gte=0"`
	MaxWarehouses int    `json:"max_warehouses" validate:"gte=0"`
	MaxBranches   int    `json:"max_branches" validate:"gte=0"`
}

// Ceiling returns the plan limit for a resource.
func (p Plan) Ceiling(resource QuotaResource) int {
	switch resource {
	case QuotaResourceProducts:
		return p.MaxProducts
	case QuotaResourceUsers:
		return p.MaxUsers
	case QuotaResourceWarehouses:
		return p.MaxWarehouses
	case QuotaResourceBranches:
		return p.MaxBranches
	}
	return 0
}

// Business is the tenant.
type Business struct {
	ID        uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	PlanId    int       `gorm:"index;not null" json:"plan_id"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name   string `json:"name" validate:"required,max=100"`
	PlanId int    `json:"plan_id" validate:"required"`
}

func CreatePlan(ctx context.Context, input *NewPlan) (*Plan, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	plan := Plan{
		Name:          input.Name,
		MaxProducts:   input.MaxProducts,
		MaxUsers:      input.MaxUsers,
		MaxWarehouses: input.MaxWarehouses,
		MaxBranches:   input.MaxBranches,
	}
	if err := config.GetDB().WithContext(ctx).Create(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// UpdatePlanCeilings changes limits and drops the cached copy.
func UpdatePlanCeilings(ctx context.Context, id int, input *NewPlan) (*Plan, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	var plan Plan
	if err := db.First(&plan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: plan %d", utils.ErrUnknownReference, id)
		}
		return nil, err
	}
	if err := db.Model(&plan).Updates(map[string]interface{}{
		"name":           input.Name,
		"max_products":   input.MaxProducts,
		"max_users":      input.MaxUsers,
		"max_warehouses": input.MaxWarehouses,
		"max_branches":   input.MaxBranches,
	}).Error; err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Plan](ctx, id); err != nil {
		config.LogError(config.GetLogger(), "Plan", "UpdatePlanCeilings", "drop plan cache", id, err)
	}
	if err := db.First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	var count int64
	if err := db.Model(&Plan{}).Where("id = ?", input.PlanId).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: plan %d", utils.ErrUnknownReference, input.PlanId)
	}
	business := Business{
		ID:       uuid.New(),
		Name:     input.Name,
		PlanId:   input.PlanId,
		IsActive: utils.NewTrue(),
	}
	if err := db.Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusiness(ctx context.Context, businessId string) (*Business, error) {
	var business Business
	err := config.GetDB().WithContext(ctx).Where("id = ?", businessId).First(&business).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: business %s", utils.ErrUnknownReference, businessId)
		}
		return nil, err
	}
	return &business, nil
}

// ListBusinessIds returns every active tenant. Used by background jobs.
func ListBusinessIds(ctx context.Context) ([]string, error) {
	var ids []string
	err := config.GetDB().WithContext(ctx).Model(&Business{}).
		Where("is_active = ?", true).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// lockBusiness takes the tenant row lock that serializes quota checks and order numbering.
func lockBusiness(tx *gorm.DB, businessId string) (*Business, error) {
	var business Business
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", businessId).First(&business).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: business %s", utils.ErrUnknownReference, businessId)
		}
		return nil, err
	}
	return &business, nil
}
