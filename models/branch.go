package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
)

type Branch struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null;size:36" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBranch struct {
	Name    string `json:"name" validate:"required,max=100"`
	Address string `json:"address"`
}

func (input *NewBranch) validate(tx *gorm.DB, businessId string, id int) error {
	return utils.ValidateUniqueTx[Branch](tx, businessId, "name", input.Name, id)
}

// CreateBranch is quota-gated on the plan's branch ceiling.
func CreateBranch(ctx context.Context, input *NewBranch) (*Branch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	branch := Branch{
		BusinessId: businessId,
		Name:       input.Name,
		Address:    input.Address,
		IsActive:   utils.NewTrue(),
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := CheckQuota(tx, businessId, QuotaResourceBranches); err != nil {
			return err
		}
		if err := input.validate(tx, businessId, 0); err != nil {
			return err
		}
		return tx.Create(&branch).Error
	})
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

func GetBranch(ctx context.Context, id int) (*Branch, error) {
	return GetResource[Branch](ctx, id)
}
