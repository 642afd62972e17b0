package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
)

type Supplier struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null;size:36" json:"business_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSupplier struct {
	Name        string `json:"name" validate:"required,max=100"`
	ContactName string `json:"contact_name" validate:"max=100"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"max=20"`
}

func CreateSupplier(ctx context.Context, input *NewSupplier) (*Supplier, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	if err := utils.ValidateUniqueTx[Supplier](db, businessId, "name", input.Name, 0); err != nil {
		return nil, err
	}
	supplier := Supplier{
		BusinessId:  businessId,
		Name:        input.Name,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		IsActive:    utils.NewTrue(),
	}
	if err := db.Create(&supplier).Error; err != nil {
		return nil, err
	}
	return &supplier, nil
}

func GetSupplier(ctx context.Context, id int) (*Supplier, error) {
	return GetResource[Supplier](ctx, id)
}
