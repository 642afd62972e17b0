package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcurementRequest is a requester's need for more of a product. Quantity is in base units.
// BranchId is taken from the product's warehouse and scopes who may act on the request.
type ProcurementRequest struct {
	ID            int               `gorm:"primary_key" json:"id"`
	BusinessId    string            `gorm:"index;not null;size:36" json:"business_id"`
	ProductId     int               `gorm:"index;not null" json:"product_id"`
	BranchId      *int              `gorm:"index" json:"branch_id"`
	RequesterId   *int              `gorm:"index" json:"requester_id"`
	Quantity      int               `gorm:"not null" json:"quantity"`
	Reason        string            `gorm:"type:text" json:"reason"`
	Status        ProcurementStatus `gorm:"size:20;not null;index" json:"status"`
	AdminNote     string            `gorm:"type:text" json:"admin_note"`
	DeliveryDate  *time.Time        `json:"delivery_date"`
	TransactionId *int              `json:"transaction_id"`
	ProcessedById *int              `json:"processed_by_id"`
	DeliveredAt   *time.Time        `json:"delivered_at"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProcurementRequest struct {
	ProductId int      `json:"product_id" validate:"required"`
	Quantity  int      `json:"quantity" validate:"required,gt=0"`
	Unit      UnitType `json:"unit" validate:"omitempty,oneof=DISCRETE CASE"`
	Reason    string   `json:"reason" validate:"max=1000"`
}

type ProcurementRequestUpdate struct {
	Status       ProcurementStatus `json:"status" validate:"required"`
	AdminNote    *string           `json:"admin_note"`
	DeliveryDate *time.Time        `json:"delivery_date"`
}

const (
	BulkSkipNotFound   = "NOT_FOUND"
	BulkSkipOutOfScope = "OUT_OF_SCOPE"
)

type BulkSkip struct {
	Id     int    `json:"id"`
	Reason string `json:"reason"`
}

// BulkUpdateResult reports what a bulk transition did. Requested is the number of distinct
// ids submitted; Count is how many changed; every other id is listed in Skipped.
type BulkUpdateResult struct {
	Requested int        `json:"requested"`
	Count     int        `json:"count"`
	Updated   []int      `json:"updated"`
	Skipped   []BulkSkip `json:"skipped"`
}

func CreateProcurementRequest(ctx context.Context, input *NewProcurementRequest) (*ProcurementRequest, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	unit := input.Unit
	if unit == "" {
		unit = UnitTypeDiscrete
	}

	request := ProcurementRequest{
		BusinessId:  actor.BusinessId,
		ProductId:   input.ProductId,
		RequesterId: actor.userRef(),
		Reason:      input.Reason,
		Status:      ProcurementStatusPending,
	}
	err = atomicBatch(ctx, "CreateProcurementRequest", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		product, err := utils.FetchModelTx[Product](tx, actor.BusinessId, input.ProductId)
		if err != nil {
			return err
		}
		branchId, err := warehouseBranchId(tx, actor.BusinessId, product.WarehouseId)
		if err != nil {
			return err
		}
		request.BranchId = branchId
		request.Quantity = ToBaseUnits(unit, input.Quantity, product)
		if err := tx.Create(&request).Error; err != nil {
			return err
		}
		events.add(stockEvent{
			Type:          EventTypeApprovalRequired,
			BusinessId:    actor.BusinessId,
			ReferenceType: ReferenceTypeProcurementRequest,
			ReferenceId:   request.ID,
			ProductId:     product.ID,
			BranchId:      branchId,
			Payload: map[string]interface{}{
				"sku":      product.Sku,
				"quantity": request.Quantity,
				"reason":   request.Reason,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// transitionRequest moves a locked request to target. DELIVERED records the single inbound
// movement for the requested quantity. Terminal or out-of-table transitions fail with ErrInvalidState.
func transitionRequest(tx *gorm.DB, actor Actor, request *ProcurementRequest, input ProcurementRequestUpdate, events *eventBuffer) error {
	target := input.Status
	if !target.IsValid() {
		return fmt.Errorf("%w: unknown procurement status %q", utils.ErrValidation, target)
	}
	if !request.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: procurement request %d cannot go from %s to %s", utils.ErrInvalidState, request.ID, request.Status, target)
	}

	updates := map[string]interface{}{
		"status":          target,
		"processed_by_id": actor.userRef(),
	}
	if input.AdminNote != nil {
		request.AdminNote = *input.AdminNote
		updates["admin_note"] = request.AdminNote
	}
	if input.DeliveryDate != nil {
		request.DeliveryDate = input.DeliveryDate
		updates["delivery_date"] = request.DeliveryDate
	}

	if target == ProcurementStatusDelivered {
		products, err := LockProducts(tx, actor.BusinessId, []int{request.ProductId})
		if err != nil {
			return err
		}
		status := DecideApproval(actor, MovementContext{Kind: TransactionTypeInbound, Origin: MovementOriginRequest})
		txn, err := recordTransaction(tx, actor, products[request.ProductId], Movement{
			Kind:                 TransactionTypeInbound,
			Origin:               MovementOriginRequest,
			ProductId:            request.ProductId,
			Unit:                 UnitTypeDiscrete,
			Quantity:             request.Quantity,
			ProcurementRequestId: &request.ID,
			Notes:                fmt.Sprintf("procurement request %d delivered", request.ID),
		}, status, events)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		request.TransactionId = &txn.ID
		request.DeliveredAt = &now
		updates["transaction_id"] = request.TransactionId
		updates["delivered_at"] = request.DeliveredAt
	}

	request.Status = target
	request.ProcessedById = actor.userRef()
	if err := tx.Model(&ProcurementRequest{}).
		Where("business_id = ? AND id = ?", actor.BusinessId, request.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	if request.RequesterId != nil {
		events.add(stockEvent{
			Type:          EventTypeRequestResolved,
			BusinessId:    actor.BusinessId,
			ReferenceType: ReferenceTypeProcurementRequest,
			ReferenceId:   request.ID,
			ProductId:     request.ProductId,
			Recipients:    []int{*request.RequesterId},
			Payload: map[string]interface{}{
				"status":     request.Status,
				"admin_note": request.AdminNote,
			},
		})
	}
	return nil
}

func UpdateProcurementRequest(ctx context.Context, id int, input *ProcurementRequestUpdate) (*ProcurementRequest, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.CanApprove() {
		return nil, utils.ErrPermissionDenied
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	var request *ProcurementRequest
	err = atomicBatch(ctx, "UpdateProcurementRequest", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		var err error
		request, err = utils.FetchModelForUpdate[ProcurementRequest](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		if !actor.InScope(request.BranchId) {
			return utils.ErrPermissionDenied
		}
		return transitionRequest(tx, actor, request, *input, events)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// DeliverProcurementRequest is the ORDERED -> DELIVERED transition.
func DeliverProcurementRequest(ctx context.Context, id int) (*ProcurementRequest, error) {
	return UpdateProcurementRequest(ctx, id, &ProcurementRequestUpdate{Status: ProcurementStatusDelivered})
}

// BulkUpdateProcurementRequests applies one target status to many requests.
//
// Ids outside the tenant are reported NOT_FOUND and, for a branch-scoped actor, requests of
// other branches are reported OUT_OF_SCOPE; both are left untouched. The remaining requests
// change together: one that cannot take the target status aborts the whole batch.
func BulkUpdateProcurementRequests(ctx context.Context, ids []int, status ProcurementStatus) (*BulkUpdateResult, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.CanApprove() {
		return nil, utils.ErrPermissionDenied
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown procurement status %q", utils.ErrValidation, status)
	}
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no procurement requests given", utils.ErrValidation)
	}

	result := &BulkUpdateResult{Requested: len(ids)}
	err = atomicBatch(ctx, "BulkUpdateProcurementRequests", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		var requests []*ProcurementRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND id IN ?", actor.BusinessId, ids).
			Order("id").
			Find(&requests).Error; err != nil {
			return err
		}

		found := make(map[int]struct{}, len(requests))
		var inScope []*ProcurementRequest
		for _, r := range requests {
			found[r.ID] = struct{}{}
			if !actor.InScope(r.BranchId) {
				result.Skipped = append(result.Skipped, BulkSkip{Id: r.ID, Reason: BulkSkipOutOfScope})
				continue
			}
			inScope = append(inScope, r)
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				result.Skipped = append(result.Skipped, BulkSkip{Id: id, Reason: BulkSkipNotFound})
			}
		}

		if status == ProcurementStatusDelivered {
			if _, err := LockProducts(tx, actor.BusinessId, formProductIds(inScope, func(r *ProcurementRequest) int { return r.ProductId })); err != nil {
				return err
			}
		}
		for _, r := range inScope {
			if err := transitionRequest(tx, actor, r, ProcurementRequestUpdate{Status: status}, events); err != nil {
				return err
			}
			result.Updated = append(result.Updated, r.ID)
		}
		result.Count = len(result.Updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result.Skipped, func(i, j int) bool { return result.Skipped[i].Id < result.Skipped[j].Id })
	return result, nil
}

func GetProcurementRequest(ctx context.Context, id int) (*ProcurementRequest, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	return utils.FetchModel[ProcurementRequest](ctx, businessId, id)
}

// ListProcurementRequests lists requests visible to the caller: tenant-wide for admins,
// the caller's branch for branch-bound users.
func ListProcurementRequests(ctx context.Context, status *ProcurementStatus) ([]*ProcurementRequest, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	q := config.GetDB().WithContext(ctx).Where("business_id = ?", actor.BusinessId)
	if !actor.IsAdmin() {
		if actor.BranchId == nil {
			return []*ProcurementRequest{}, nil
		}
		q = q.Where("branch_id = ?", *actor.BranchId)
	}
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var requests []*ProcurementRequest
	if err := q.Order("id DESC").Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}
