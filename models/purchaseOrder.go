package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PurchaseOrder struct {
	ID           int                 `gorm:"primary_key" json:"id"`
	BusinessId   string              `gorm:"index;not null;size:36;uniqueIndex:idx_purchase_order_sequence,priority:1" json:"business_id"`
	SequenceNo   int                 `gorm:"not null;uniqueIndex:idx_purchase_order_sequence,priority:2" json:"sequence_no"`
	OrderNumber  string              `gorm:"size:30;not null" json:"order_number"`
	SupplierId   int                 `gorm:"index;not null" json:"supplier_id"`
	ExpectedDate *time.Time          `json:"expected_date"`
	Status       PurchaseOrderStatus `gorm:"size:20;not null;index" json:"status"`
	Notes        string              `gorm:"type:text" json:"notes"`
	TotalAmount  decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Items        []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderId" json:"items"`
	CreatedById  *int                `json:"created_by_id"`
	CancelledAt  *time.Time          `json:"cancelled_at"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseOrderItem quantities are in base units. QuantityReceived only grows and never
// passes QuantityExpected.
type PurchaseOrderItem struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BusinessId       string          `gorm:"index;not null;size:36" json:"business_id"`
	PurchaseOrderId  int             `gorm:"index;not null" json:"purchase_order_id"`
	ProductId        int             `gorm:"index;not null" json:"product_id"`
	DeclaredUnit     UnitType        `gorm:"size:20;not null" json:"declared_unit"`
	DeclaredQuantity int             `gorm:"not null" json:"declared_quantity"`
	QuantityExpected int             `gorm:"not null" json:"quantity_expected"`
	QuantityReceived int             `gorm:"not null;default:0" json:"quantity_received"`
	UnitCost         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item PurchaseOrderItem) Outstanding() int {
	return item.QuantityExpected - item.QuantityReceived
}

type NewPurchaseOrderItem struct {
	ProductId int             `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	Unit      UnitType        `json:"unit" validate:"omitempty,oneof=DISCRETE CASE"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type NewPurchaseOrder struct {
	SupplierId   int                    `json:"supplier_id" validate:"required"`
	ExpectedDate *time.Time             `json:"expected_date"`
	Notes        string                 `json:"notes"`
	Items        []NewPurchaseOrderItem `json:"items" validate:"required,min=1,dive"`
}

// ReceiveLine is one received quantity against an order item, in base units.
type ReceiveLine struct {
	ItemId      int    `json:"item_id" validate:"required"`
	ReceivedQty int    `json:"received_qty"`
	Notes       string `json:"notes"`
}

type ReceiveResult struct {
	Order        *PurchaseOrder      `json:"order"`
	Transactions []*StockTransaction `json:"transactions"`
	// Received is the total base units taken into stock by this call.
	Received int `json:"received"`
}

// DerivePurchaseOrderStatus recomputes an order's status from its items.
// A cancelled order stays cancelled.
func DerivePurchaseOrderStatus(items []PurchaseOrderItem, current PurchaseOrderStatus) PurchaseOrderStatus {
	if current == PurchaseOrderStatusCancelled {
		return current
	}
	if len(items) == 0 {
		return PurchaseOrderStatusOrdered
	}
	complete, received := true, false
	for _, item := range items {
		if item.QuantityReceived < item.QuantityExpected {
			complete = false
		}
		if item.QuantityReceived > 0 {
			received = true
		}
	}
	switch {
	case complete:
		return PurchaseOrderStatusCompleted
	case received:
		return PurchaseOrderStatusPartial
	}
	return PurchaseOrderStatusOrdered
}

func nextPurchaseOrderSequence(tx *gorm.DB, businessId string) (int, error) {
	if _, err := lockBusiness(tx, businessId); err != nil {
		return 0, err
	}
	var last int
	err := tx.Model(&PurchaseOrder{}).
		Where("business_id = ?", businessId).
		Select("COALESCE(MAX(sequence_no), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	for _, item := range input.Items {
		if err := validatePrices(item.UnitCost); err != nil {
			return nil, err
		}
	}

	order := PurchaseOrder{
		BusinessId:   actor.BusinessId,
		SupplierId:   input.SupplierId,
		ExpectedDate: input.ExpectedDate,
		Status:       PurchaseOrderStatusOrdered,
		Notes:        input.Notes,
		CreatedById:  actor.userRef(),
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.ValidateResourceIdTx[Supplier](tx, actor.BusinessId, input.SupplierId); err != nil {
			return err
		}
		products, err := LockProducts(tx, actor.BusinessId, formProductIds(input.Items, func(i NewPurchaseOrderItem) int { return i.ProductId }))
		if err != nil {
			return err
		}
		seq, err := nextPurchaseOrderSequence(tx, actor.BusinessId)
		if err != nil {
			return err
		}
		order.SequenceNo = seq
		order.OrderNumber = fmt.Sprintf("PO-%06d", seq)

		total := decimal.Zero
		for _, in := range input.Items {
			unit := in.Unit
			if unit == "" {
				unit = UnitTypeDiscrete
			}
			item := PurchaseOrderItem{
				BusinessId:       actor.BusinessId,
				ProductId:        in.ProductId,
				DeclaredUnit:     unit,
				DeclaredQuantity: in.Quantity,
				QuantityExpected: ToBaseUnits(unit, in.Quantity, products[in.ProductId]),
				UnitCost:         in.UnitCost,
			}
			total = total.Add(in.UnitCost.Mul(decimal.NewFromInt(int64(item.QuantityExpected))))
			order.Items = append(order.Items, item)
		}
		order.TotalAmount = total
		return tx.Create(&order).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ReceivePurchaseOrder takes received goods into stock.
//
// Every line with a positive quantity raises its item's QuantityReceived, records an APPROVED
// inbound movement and moves the ledger. Zero lines are skipped. Lines naming the same item
// are checked against the expected quantity cumulatively. Any failing line aborts the batch.
func ReceivePurchaseOrder(ctx context.Context, id int, lines []ReceiveLine) (*ReceiveResult, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if err := utils.ValidateStruct(&lines[i]); err != nil {
			return nil, err
		}
		if lines[i].ReceivedQty < 0 {
			return nil, fmt.Errorf("%w: received quantity must not be negative", utils.ErrValidation)
		}
	}

	result := &ReceiveResult{}
	err = atomicBatch(ctx, "ReceivePurchaseOrder", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		order, err := utils.FetchModelForUpdate[PurchaseOrder](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: purchase order %s is %s", utils.ErrInvalidState, order.OrderNumber, order.Status)
		}
		var items []PurchaseOrderItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND purchase_order_id = ?", actor.BusinessId, order.ID).
			Order("id").
			Find(&items).Error; err != nil {
			return err
		}
		byId := make(map[int]*PurchaseOrderItem, len(items))
		for i := range items {
			byId[items[i].ID] = &items[i]
		}

		increments := make(map[int]int)
		var productIds []int
		for _, line := range lines {
			item, ok := byId[line.ItemId]
			if !ok {
				return fmt.Errorf("%w: purchase order item %d", utils.ErrUnknownReference, line.ItemId)
			}
			if line.ReceivedQty == 0 {
				continue
			}
			increments[item.ID] += line.ReceivedQty
			if item.QuantityReceived+increments[item.ID] > item.QuantityExpected {
				return fmt.Errorf("%w: item %d expects %d, already received %d, receiving %d",
					utils.ErrOverReceipt, item.ID, item.QuantityExpected, item.QuantityReceived, increments[item.ID])
			}
			productIds = append(productIds, item.ProductId)
		}
		result.Order = order
		if len(increments) == 0 {
			order.Items = items
			return nil
		}

		products, err := LockProducts(tx, actor.BusinessId, productIds)
		if err != nil {
			return err
		}
		status := DecideApproval(actor, MovementContext{Kind: TransactionTypeInbound, Origin: MovementOriginOrder})
		for _, line := range lines {
			if line.ReceivedQty == 0 {
				continue
			}
			item := byId[line.ItemId]
			txn, err := recordTransaction(tx, actor, products[item.ProductId], Movement{
				Kind:                TransactionTypeInbound,
				Origin:              MovementOriginOrder,
				ProductId:           item.ProductId,
				Unit:                UnitTypeDiscrete,
				Quantity:            line.ReceivedQty,
				SupplierId:          &order.SupplierId,
				PurchaseOrderId:     &order.ID,
				PurchaseOrderItemId: &item.ID,
				Notes:               line.Notes,
			}, status, events)
			if err != nil {
				return fmt.Errorf("item %d: %w", item.ID, err)
			}
			result.Transactions = append(result.Transactions, txn)
			result.Received += txn.Quantity
		}

		for itemId, inc := range increments {
			item := byId[itemId]
			item.QuantityReceived += inc
			if err := tx.Model(&PurchaseOrderItem{}).
				Where("business_id = ? AND id = ?", actor.BusinessId, itemId).
				Update("quantity_received", item.QuantityReceived).Error; err != nil {
				return err
			}
		}

		order.Status = DerivePurchaseOrderStatus(items, order.Status)
		order.Items = items
		return tx.Model(&PurchaseOrder{}).
			Where("business_id = ? AND id = ?", actor.BusinessId, order.ID).
			Update("status", order.Status).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelPurchaseOrder closes an order that is not yet completed. Stock already received stays.
func CancelPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.CanApprove() {
		return nil, utils.ErrPermissionDenied
	}

	var order *PurchaseOrder
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err = utils.FetchModelForUpdate[PurchaseOrder](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: purchase order %s is %s", utils.ErrInvalidState, order.OrderNumber, order.Status)
		}
		now := time.Now().UTC()
		order.Status = PurchaseOrderStatusCancelled
		order.CancelledAt = &now
		return tx.Model(&PurchaseOrder{}).
			Where("business_id = ? AND id = ?", actor.BusinessId, order.ID).
			Updates(map[string]interface{}{"status": order.Status, "cancelled_at": order.CancelledAt}).Error
	})
	if err != nil {
		return nil, err
	}
	return GetPurchaseOrder(ctx, order.ID)
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	return utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Items")
}

func ListPurchaseOrders(ctx context.Context, status *PurchaseOrderStatus) ([]*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	q := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var orders []*PurchaseOrder
	if err := q.Order("sequence_no DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
