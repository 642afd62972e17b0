package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"gorm.io/gorm"
)

// StockForm groups the movements of one document, e.g. a delivery note covering several products.
// Its status is derived from its lines.
type StockForm struct {
	ID            int                `gorm:"primary_key" json:"id"`
	BusinessId    string             `gorm:"index;not null;size:36" json:"business_id"`
	Type          TransactionType    `gorm:"size:20;not null" json:"type"`
	SupplierId    *int               `gorm:"index" json:"supplier_id"`
	WaybillNumber string             `gorm:"size:100" json:"waybill_number"`
	Notes         string             `gorm:"type:text" json:"notes"`
	GoodsReceived bool               `gorm:"not null" json:"goods_received"`
	Status        ApprovalStatus     `gorm:"size:20;not null;index" json:"status"`
	CreatedById   *int               `json:"created_by_id"`
	ProcessedById *int               `json:"processed_by_id"`
	ProcessedAt   *time.Time         `json:"processed_at"`
	Lines         []StockTransaction `gorm:"foreignKey:StockFormId" json:"lines"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockFormLine struct {
	ProductId int      `json:"product_id" validate:"required"`
	Quantity  int      `json:"quantity" validate:"required,gt=0"`
	Unit      UnitType `json:"unit" validate:"omitempty,oneof=DISCRETE CASE"`
	Notes     string   `json:"notes"`
}

type NewStockForm struct {
	Type          TransactionType    `json:"type" validate:"required,oneof=INBOUND OUTBOUND WASTAGE"`
	SupplierId    *int               `json:"supplier_id"`
	WaybillNumber string             `json:"waybill_number" validate:"max=100"`
	Notes         string             `json:"notes"`
	GoodsReceived *bool              `json:"goods_received"`
	IsCash        bool               `json:"is_cash"`
	IsPaid        bool               `json:"is_paid"`
	PaymentDate   *time.Time         `json:"payment_date"`
	Items         []NewStockFormLine `json:"items" validate:"required,min=1,dive"`
}

// PaymentData settles the financial flags of every line when a form is approved.
type PaymentData struct {
	IsCash      bool       `json:"is_cash"`
	IsPaid      bool       `json:"is_paid"`
	PaymentDate *time.Time `json:"payment_date"`
}

// DeriveStockFormStatus: any pending line keeps the form PENDING, a form whose lines are
// all rejected is REJECTED, anything else is APPROVED.
func DeriveStockFormStatus(lines []*StockTransaction) ApprovalStatus {
	if len(lines) == 0 {
		return ApprovalStatusPending
	}
	rejected := 0
	for _, l := range lines {
		switch l.Status {
		case ApprovalStatusPending:
			return ApprovalStatusPending
		case ApprovalStatusRejected:
			rejected++
		}
	}
	if rejected == len(lines) {
		return ApprovalStatusRejected
	}
	return ApprovalStatusApproved
}

func formProductIds[T any](items []T, id func(T) int) []int {
	ids := make([]int, 0, len(items))
	for _, item := range items {
		ids = append(ids, id(item))
	}
	return ids
}

// CreateStockForm records the header and every line in one atomic batch. The approval gate
// runs once for the whole form. Any failing line aborts the form with nothing persisted.
func CreateStockForm(ctx context.Context, input *NewStockForm) (*StockForm, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	status := DecideApproval(actor, MovementContext{
		Kind:          input.Type,
		Origin:        MovementOriginForm,
		GoodsReceived: input.GoodsReceived,
	})

	form := StockForm{
		BusinessId:    actor.BusinessId,
		Type:          input.Type,
		SupplierId:    input.SupplierId,
		WaybillNumber: input.WaybillNumber,
		Notes:         input.Notes,
		GoodsReceived: utils.DereferencePtr(input.GoodsReceived, true),
		Status:        status,
		CreatedById:   actor.userRef(),
	}
	err = atomicBatch(ctx, "CreateStockForm", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		products, err := LockProducts(tx, actor.BusinessId, formProductIds(input.Items, func(l NewStockFormLine) int { return l.ProductId }))
		if err != nil {
			return err
		}
		if input.SupplierId != nil {
			if err := utils.ValidateResourceIdTx[Supplier](tx, actor.BusinessId, *input.SupplierId); err != nil {
				return err
			}
		}
		if err := tx.Omit("Lines").Create(&form).Error; err != nil {
			return err
		}
		for i, item := range input.Items {
			txn, err := recordTransaction(tx, actor, products[item.ProductId], Movement{
				Kind:        input.Type,
				Origin:      MovementOriginForm,
				ProductId:   item.ProductId,
				Unit:        item.Unit,
				Quantity:    item.Quantity,
				SupplierId:  input.SupplierId,
				StockFormId: &form.ID,
				Financial: FinancialFlags{
					IsCash:      input.IsCash,
					IsPaid:      input.IsPaid,
					PaymentDate: input.PaymentDate,
				},
				Notes: item.Notes,
			}, status, events)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			form.Lines = append(form.Lines, *txn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &form, nil
}

// ProcessStockForm approves or rejects a form's lines.
//
// APPROVE applies every line that has not been applied yet and is a no-op for lines that
// already were, so repeating it never changes stock twice. A rejected line blocks approval.
// REJECT closes the pending lines and fails once any line has been applied.
func ProcessStockForm(ctx context.Context, id int, action ProcessAction, payment *PaymentData) (*StockForm, error) {
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

	var form *StockForm
	err = atomicBatch(ctx, "ProcessStockForm", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		var err error
		form, err = utils.FetchModelForUpdate[StockForm](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		var lines []*StockTransaction
		if err := tx.Where("business_id = ? AND stock_form_id = ?", actor.BusinessId, form.ID).
			Order("id").
			Find(&lines).Error; err != nil {
			return err
		}
		products, err := LockProducts(tx, actor.BusinessId, formProductIds(lines, func(l *StockTransaction) int { return l.ProductId }))
		if err != nil {
			return err
		}
		if err := checkProductScope(tx, actor, products); err != nil {
			return err
		}

		var pending []*StockTransaction
		applied := 0
		for _, l := range lines {
			switch {
			case l.Status == ApprovalStatusRejected && action == ProcessActionApprove:
				return fmt.Errorf("%w: stock form %d has rejected lines", utils.ErrInvalidState, form.ID)
			case l.AppliedAt != nil:
				applied++
			case l.Status == ApprovalStatusPending:
				pending = append(pending, l)
			}
		}

		switch action {
		case ProcessActionApprove:
			for _, l := range pending {
				if err := applyTransactionEffect(tx, actor, l, events); err != nil {
					return fmt.Errorf("transaction %d: %w", l.ID, err)
				}
			}
			if payment != nil {
				if err := settleFormPayment(tx, actor.BusinessId, lines, payment); err != nil {
					return err
				}
			}
		case ProcessActionReject:
			if applied > 0 {
				return fmt.Errorf("%w: stock form %d has applied lines", utils.ErrInvalidState, form.ID)
			}
			if len(pending) == 0 {
				return fmt.Errorf("%w: stock form %d has no pending lines", utils.ErrInvalidState, form.ID)
			}
			for _, l := range pending {
				if err := rejectTransaction(tx, actor, l); err != nil {
					return err
				}
			}
		}

		now := time.Now().UTC()
		form.Status = DeriveStockFormStatus(lines)
		form.ProcessedAt = &now
		form.ProcessedById = actor.userRef()
		updates := map[string]interface{}{
			"status":          form.Status,
			"processed_at":    form.ProcessedAt,
			"processed_by_id": form.ProcessedById,
		}
		if action == ProcessActionApprove {
			form.GoodsReceived = true
			updates["goods_received"] = true
		}
		if err := tx.Model(&StockForm{}).
			Where("business_id = ? AND id = ?", actor.BusinessId, form.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		for _, l := range lines {
			form.Lines = append(form.Lines, *l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return form, nil
}

func settleFormPayment(tx *gorm.DB, businessId string, lines []*StockTransaction, payment *PaymentData) error {
	isPaid := payment.IsPaid || payment.IsCash
	paymentDate := payment.PaymentDate
	if isPaid && paymentDate == nil {
		now := time.Now().UTC()
		paymentDate = &now
	}
	ids := make([]int, 0, len(lines))
	for _, l := range lines {
		if l.Status == ApprovalStatusRejected {
			continue
		}
		l.IsCash = payment.IsCash
		l.IsPaid = isPaid
		l.PaymentDate = paymentDate
		ids = append(ids, l.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&StockTransaction{}).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Updates(map[string]interface{}{
			"is_cash":      payment.IsCash,
			"is_paid":      isPaid,
			"payment_date": paymentDate,
		}).Error
}

func GetStockForm(ctx context.Context, id int) (*StockForm, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	return utils.FetchModel[StockForm](ctx, businessId, id, "Lines")
}

func ListStockForms(ctx context.Context, status *ApprovalStatus) ([]*StockForm, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	q := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var forms []*StockForm
	if err := q.Order("id DESC").Find(&forms).Error; err != nil {
		return nil, err
	}
	return forms, nil
}
