package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
)

// StockTransaction is one movement of one product. Quantity is always in base units.
// Apart from the single PENDING -> APPROVED/REJECTED transition and payment settlement,
// rows are never updated.
type StockTransaction struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	BusinessId           string          `gorm:"index;not null;size:36" json:"business_id"`
	ProductId            int             `gorm:"index;not null" json:"product_id"`
	Type                 TransactionType `gorm:"size:20;not null" json:"type"`
	Origin               MovementOrigin  `gorm:"size:20;not null" json:"origin"`
	Quantity             int             `gorm:"not null" json:"quantity"`
	DeclaredUnit         UnitType        `gorm:"size:20;not null" json:"declared_unit"`
	DeclaredQuantity     int             `gorm:"not null" json:"declared_quantity"`
	Status               ApprovalStatus  `gorm:"size:20;index;not null" json:"status"`
	SupplierId           *int            `gorm:"index" json:"supplier_id"`
	StockFormId          *int            `gorm:"index" json:"stock_form_id"`
	PurchaseOrderId      *int            `gorm:"index" json:"purchase_order_id"`
	PurchaseOrderItemId  *int            `json:"purchase_order_item_id"`
	ProcurementRequestId *int            `gorm:"index" json:"procurement_request_id"`
	IsCash               bool            `gorm:"not null;default:false" json:"is_cash"`
	IsPaid               bool            `gorm:"not null;default:false" json:"is_paid"`
	PaymentDate          *time.Time      `json:"payment_date"`
	Notes                string          `gorm:"type:text" json:"notes"`
	StockAfter           *int            `json:"stock_after"`
	// AppliedAt is set exactly once, when the ledger delta is written.
	AppliedAt    *time.Time `gorm:"index" json:"applied_at"`
	CreatedById  *int       `json:"created_by_id"`
	ApprovedById *int       `json:"approved_by_id"`
	ProcessedAt  *time.Time `json:"processed_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SignedQuantity is the ledger delta this transaction represents.
func (t StockTransaction) SignedQuantity() int {
	return t.Type.Sign() * t.Quantity
}

type FinancialFlags struct {
	IsCash      bool       `json:"is_cash"`
	IsPaid      bool       `json:"is_paid"`
	PaymentDate *time.Time `json:"payment_date"`
}

// Movement is the validated request to record one stock movement.
// Kind and Origin together select which references are required.
type Movement struct {
	Kind                 TransactionType
	Origin               MovementOrigin
	ProductId            int
	Unit                 UnitType
	Quantity             int
	SupplierId           *int
	StockFormId          *int
	PurchaseOrderId      *int
	PurchaseOrderItemId  *int
	ProcurementRequestId *int
	Financial            FinancialFlags
	Notes                string
}

func (m Movement) Validate() error {
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: unknown movement type %q", utils.ErrValidation, m.Kind)
	}
	if !m.Origin.IsValid() {
		return fmt.Errorf("%w: unknown movement origin %q", utils.ErrValidation, m.Origin)
	}
	if m.ProductId <= 0 {
		return fmt.Errorf("%w: product is required", utils.ErrValidation)
	}
	if m.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", utils.ErrValidation)
	}
	if m.Unit != "" && !m.Unit.IsValid() {
		return fmt.Errorf("%w: unknown unit %q", utils.ErrValidation, m.Unit)
	}
	switch m.Origin {
	case MovementOriginForm:
		if m.StockFormId == nil {
			return fmt.Errorf("%w: form movement without stock form", utils.ErrValidation)
		}
	case MovementOriginOrder:
		if m.Kind != TransactionTypeInbound || m.PurchaseOrderId == nil || m.PurchaseOrderItemId == nil {
			return fmt.Errorf("%w: order movement must be an inbound against an order item", utils.ErrValidation)
		}
	case MovementOriginRequest:
		if m.Kind != TransactionTypeInbound || m.ProcurementRequestId == nil {
			return fmt.Errorf("%w: request movement must be an inbound against a request", utils.ErrValidation)
		}
	case MovementOriginOpening:
		if m.Kind != TransactionTypeInbound {
			return fmt.Errorf("%w: opening stock must be inbound", utils.ErrValidation)
		}
	}
	return nil
}

// recordTransaction persists one movement at the given status. An APPROVED movement goes
// through applyTransactionEffect first, so an insufficient-stock failure leaves no record.
// A PENDING one raises an approval-required event for its document.
// Only opening stock may be recorded against a product that is not APPROVED.
func recordTransaction(tx *gorm.DB, actor Actor, product *Product, m Movement, status ApprovalStatus, events *eventBuffer) (*StockTransaction, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Origin != MovementOriginOpening && product.Status != ApprovalStatusApproved {
		return nil, fmt.Errorf("%w: product %d is %s", utils.ErrInvalidState, product.ID, product.Status)
	}
	unit := m.Unit
	if unit == "" {
		unit = UnitTypeDiscrete
	}
	txn := &StockTransaction{
		BusinessId:           actor.BusinessId,
		ProductId:            product.ID,
		Type:                 m.Kind,
		Origin:               m.Origin,
		Quantity:             ToBaseUnits(unit, m.Quantity, product),
		DeclaredUnit:         unit,
		DeclaredQuantity:     m.Quantity,
		Status:               ApprovalStatusPending,
		SupplierId:           m.SupplierId,
		StockFormId:          m.StockFormId,
		PurchaseOrderId:      m.PurchaseOrderId,
		PurchaseOrderItemId:  m.PurchaseOrderItemId,
		ProcurementRequestId: m.ProcurementRequestId,
		IsCash:               m.Financial.IsCash,
		IsPaid:               m.Financial.IsPaid || m.Financial.IsCash,
		PaymentDate:          m.Financial.PaymentDate,
		Notes:                m.Notes,
		CreatedById:          actor.userRef(),
	}
	if txn.IsPaid && txn.PaymentDate == nil {
		now := time.Now().UTC()
		txn.PaymentDate = &now
	}

	switch status {
	case ApprovalStatusApproved:
		if err := applyTransactionEffect(tx, actor, txn, events); err != nil {
			return nil, err
		}
	case ApprovalStatusRejected:
		txn.Status = ApprovalStatusRejected
	}
	if err := tx.Create(txn).Error; err != nil {
		return nil, err
	}

	// pending opening stock is announced once, by its product
	if txn.Status == ApprovalStatusPending && txn.Origin != MovementOriginOpening {
		refType, refId := ReferenceTypeTransaction, txn.ID
		if txn.StockFormId != nil {
			refType, refId = ReferenceTypeStockForm, *txn.StockFormId
		}
		events.approvalRequired(actor.BusinessId, refType, refId, product, map[string]interface{}{
			"transaction_id": txn.ID,
			"type":           txn.Type,
			"quantity":       txn.Quantity,
			"sku":            product.Sku,
		})
	}
	return txn, nil
}

// applyTransactionEffect writes a transaction's delta to the ledger and marks it APPROVED.
// Immediate and deferred approval both come through here. A transaction that already has
// AppliedAt is skipped, so repeated approval never double-applies.
func applyTransactionEffect(tx *gorm.DB, actor Actor, txn *StockTransaction, events *eventBuffer) error {
	if txn.AppliedAt != nil {
		return nil
	}
	product, err := applyStockDelta(tx, txn.BusinessId, txn.ProductId, txn.SignedQuantity())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	stockAfter := product.CurrentStock
	txn.Status = ApprovalStatusApproved
	txn.AppliedAt = &now
	txn.ProcessedAt = &now
	txn.StockAfter = &stockAfter
	txn.ApprovedById = actor.userRef()

	if txn.ID != 0 {
		res := tx.Model(&StockTransaction{}).
			Where("business_id = ? AND id = ? AND applied_at IS NULL", txn.BusinessId, txn.ID).
			Updates(map[string]interface{}{
				"status":         txn.Status,
				"applied_at":     txn.AppliedAt,
				"processed_at":   txn.ProcessedAt,
				"stock_after":    txn.StockAfter,
				"approved_by_id": txn.ApprovedById,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: transaction %d already applied", utils.ErrInvalidState, txn.ID)
		}
	}

	if txn.Type != TransactionTypeInbound && product.CurrentStock <= product.MinStock {
		events.criticalStock(txn.BusinessId, product)
	}
	return nil
}

// rejectTransaction closes a pending transaction without touching the ledger.
func rejectTransaction(tx *gorm.DB, actor Actor, txn *StockTransaction) error {
	if txn.Status != ApprovalStatusPending {
		return fmt.Errorf("%w: transaction %d is %s", utils.ErrInvalidState, txn.ID, txn.Status)
	}
	now := time.Now().UTC()
	txn.Status = ApprovalStatusRejected
	txn.ProcessedAt = &now
	txn.ApprovedById = actor.userRef()
	return tx.Model(&StockTransaction{}).
		Where("business_id = ? AND id = ?", txn.BusinessId, txn.ID).
		Updates(map[string]interface{}{
			"status":         txn.Status,
			"processed_at":   txn.ProcessedAt,
			"approved_by_id": txn.ApprovedById,
		}).Error
}

type NewTransaction struct {
	ProductId   int             `json:"product_id" validate:"required"`
	Type        TransactionType `json:"type" validate:"required,oneof=INBOUND OUTBOUND WASTAGE"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	Unit        UnitType        `json:"unit" validate:"omitempty,oneof=DISCRETE CASE"`
	SupplierId  *int            `json:"supplier_id"`
	IsCash      bool            `json:"is_cash"`
	IsPaid      bool            `json:"is_paid"`
	PaymentDate *time.Time      `json:"payment_date"`
	Notes       string          `json:"notes"`
}

// CreateTransaction records a direct movement. Its status comes from the approval gate;
// an approved movement that would take stock negative fails with ErrInsufficientStock
// and leaves no record.
func CreateTransaction(ctx context.Context, input *NewTransaction) (*StockTransaction, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	status := DecideApproval(actor, MovementContext{Kind: input.Type, Origin: MovementOriginDirect})

	var result *StockTransaction
	err = atomicBatch(ctx, "CreateTransaction", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		products, err := LockProducts(tx, actor.BusinessId, []int{input.ProductId})
		if err != nil {
			return err
		}
		if input.SupplierId != nil {
			if err := utils.ValidateResourceIdTx[Supplier](tx, actor.BusinessId, *input.SupplierId); err != nil {
				return err
			}
		}
		result, err = recordTransaction(tx, actor, products[input.ProductId], Movement{
			Kind:       input.Type,
			Origin:     MovementOriginDirect,
			ProductId:  input.ProductId,
			Unit:       input.Unit,
			Quantity:   input.Quantity,
			SupplierId: input.SupplierId,
			Financial: FinancialFlags{
				IsCash:      input.IsCash,
				IsPaid:      input.IsPaid,
				PaymentDate: input.PaymentDate,
			},
			Notes: input.Notes,
		}, status, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ProcessTransaction approves or rejects a pending direct movement.
// Form lines are processed through their form and opening stock through its product.
func ProcessTransaction(ctx context.Context, id int, action ProcessAction) (*StockTransaction, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.CanApprove() {
		return nil, utils.ErrPermissionDenied
	}
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", utils.ErrValidation, action)
	}

	var txn *StockTransaction
	err = atomicBatch(ctx, "ProcessTransaction", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		var err error
		txn, err = utils.FetchModelForUpdate[StockTransaction](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		products, err := LockProducts(tx, actor.BusinessId, []int{txn.ProductId})
		if err != nil {
			return err
		}
		if err := checkProductScope(tx, actor, products); err != nil {
			return err
		}
		if txn.Origin != MovementOriginDirect {
			return fmt.Errorf("%w: %s transaction %d is processed through its document", utils.ErrInvalidState, txn.Origin, txn.ID)
		}
		if txn.Status != ApprovalStatusPending {
			return fmt.Errorf("%w: transaction %d is %s", utils.ErrInvalidState, txn.ID, txn.Status)
		}
		if action == ProcessActionReject {
			return rejectTransaction(tx, actor, txn)
		}
		return applyTransactionEffect(tx, actor, txn, events)
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// MarkTransactionPaid settles the payment flag of a non-rejected movement.
func MarkTransactionPaid(ctx context.Context, id int, paymentDate *time.Time) (*StockTransaction, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.CanApprove() {
		return nil, utils.ErrPermissionDenied
	}
	if paymentDate == nil {
		now := time.Now().UTC()
		paymentDate = &now
	}

	var txn *StockTransaction
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = utils.FetchModelForUpdate[StockTransaction](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		if txn.Status == ApprovalStatusRejected || txn.IsPaid {
			return fmt.Errorf("%w: transaction %d cannot be marked paid", utils.ErrInvalidState, txn.ID)
		}
		txn.IsPaid = true
		txn.PaymentDate = paymentDate
		return tx.Model(&StockTransaction{}).
			Where("business_id = ? AND id = ?", actor.BusinessId, txn.ID).
			Updates(map[string]interface{}{"is_paid": true, "payment_date": paymentDate}).Error
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func GetTransaction(ctx context.Context, id int) (*StockTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	return utils.FetchModel[StockTransaction](ctx, businessId, id)
}

type TransactionFilter struct {
	ProductId   *int            `json:"product_id"`
	Status      *ApprovalStatus `json:"status"`
	Origin      *MovementOrigin `json:"origin"`
	StockFormId *int            `json:"stock_form_id"`
	Unpaid      bool            `json:"unpaid"`
}

func ListTransactions(ctx context.Context, filter TransactionFilter) ([]*StockTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	q := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	if filter.ProductId != nil {
		q = q.Where("product_id = ?", *filter.ProductId)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Origin != nil {
		q = q.Where("origin = ?", *filter.Origin)
	}
	if filter.StockFormId != nil {
		q = q.Where("stock_form_id = ?", *filter.StockFormId)
	}
	if filter.Unpaid {
		q = q.Where("is_paid = ? AND status <> ?", false, ApprovalStatusRejected)
	}
	var results []*StockTransaction
	if err := q.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
