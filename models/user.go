package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
)

// User is the tenant member a session resolves to. Credentials live with the auth service.
type User struct {
	ID             int       `gorm:"primary_key" json:"id"`
	BusinessId     string    `gorm:"index;not null;size:36" json:"business_id"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	Username       string    `gorm:"size:100;not null" json:"username"`
	Role           Role      `gorm:"size:20;not null" json:"role"`
	BranchId       *int      `gorm:"index" json:"branch_id"`
	CanAutoApprove bool      `gorm:"not null;default:false" json:"can_auto_approve"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Name           string `json:"name" validate:"required,max=100"`
	Username       string `json:"username" validate:"required,max=100"`
	Role           Role   `json:"role" validate:"required,oneof=SUPER_ADMIN ADMIN BRANCH_MANAGER STAFF"`
	BranchId       *int   `json:"branch_id"`
	CanAutoApprove bool   `json:"can_auto_approve"`
}

func (input *NewUser) validate(tx *gorm.DB, businessId string, id int) error {
	if err := utils.ValidateUniqueTx[User](tx, businessId, "username", input.Username, id); err != nil {
		return err
	}
	if input.Role == RoleBranchManager && input.BranchId == nil {
		return fmt.Errorf("%w: branch manager requires a branch", utils.ErrValidation)
	}
	if input.BranchId != nil {
		if err := utils.ValidateResourceIdTx[Branch](tx, businessId, *input.BranchId); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser is quota-gated on the plan's user ceiling.
func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	user := User{
		BusinessId:     businessId,
		Name:           input.Name,
		Username:       input.Username,
		Role:           input.Role,
		BranchId:       input.BranchId,
		CanAutoApprove: input.CanAutoApprove,
		IsActive:       utils.NewTrue(),
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := CheckQuota(tx, businessId, QuotaResourceUsers); err != nil {
			return err
		}
		if err := input.validate(tx, businessId, 0); err != nil {
			return err
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// approverIds lists the users who should decide a pending movement: the branch's managers,
// or the tenant admins when there is no branch or it has no manager.
func approverIds(db *gorm.DB, businessId string, branchId *int) ([]int, error) {
	var ids []int
	if branchId != nil {
		if err := db.Model(&User{}).
			Where("business_id = ? AND branch_id = ? AND role = ? AND is_active = ?", businessId, *branchId, RoleBranchManager, true).
			Order("id").
			Pluck("id", &ids).Error; err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return ids, nil
		}
	}
	return adminIds(db, businessId)
}

func adminIds(db *gorm.DB, businessId string) ([]int, error) {
	var ids []int
	err := db.Model(&User{}).
		Where("business_id = ? AND role IN ? AND is_active = ?", businessId, []Role{RoleAdmin, RoleSuperAdmin}, true).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}
