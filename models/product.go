package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID           int               `gorm:"primary_key" json:"id"`
	BusinessId   string            `gorm:"index;not null;size:36;uniqueIndex:idx_product_sku,priority:1" json:"business_id"`
	WarehouseId  int               `gorm:"index;not null" json:"warehouse_id"`
	DepartmentId *int              `gorm:"index" json:"department_id"`
	Name         string            `gorm:"size:100;not null" json:"name"`
	Description  string            `gorm:"type:text" json:"description"`
	Sku          string            `gorm:"size:100;not null;uniqueIndex:idx_product_sku,priority:2" json:"sku"`
	Barcode      string            `gorm:"index;size:100" json:"barcode"`
	CurrentStock int               `gorm:"not null;default:0" json:"current_stock"`
	MinStock     int               `gorm:"not null;default:0" json:"min_stock"`
	UnitType     UnitType          `gorm:"size:20;not null;default:'DISCRETE'" json:"unit_type"`
	ItemsPerCase int               `gorm:"not null;default:1" json:"items_per_case"`
	BuyingPrice  decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"buying_price"`
	SellingPrice decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	Status       ApprovalStatus    `gorm:"size:20;not null;index" json:"status"`
	Suppliers    []ProductSupplier `gorm:"foreignKey:ProductId" json:"suppliers"`
	CreatedById  *int              `json:"created_by_id"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductSupplier links a product to a supplier. A product with any suppliers has exactly one main.
type ProductSupplier struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null;size:36" json:"business_id"`
	ProductId  int       `gorm:"not null;uniqueIndex:idx_product_supplier,priority:1" json:"product_id"`
	SupplierId int       `gorm:"not null;uniqueIndex:idx_product_supplier,priority:2" json:"supplier_id"`
	IsMain     bool      `gorm:"not null;default:false" json:"is_main"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (p Product) MainSupplierId() *int {
	for _, s := range p.Suppliers {
		if s.IsMain {
			id := s.SupplierId
			return &id
		}
	}
	return nil
}

type NewProductSupplier struct {
	SupplierId int  `json:"supplier_id" validate:"required"`
	IsMain     bool `json:"is_main"`
}

type NewProduct struct {
	WarehouseId      int                  `json:"warehouse_id" validate:"required"`
	DepartmentId     *int                 `json:"department_id"`
	Name             string               `json:"name" validate:"required,max=100"`
	Description      string               `json:"description"`
	Sku              string               `json:"sku" validate:"required,max=100"`
	Barcode          string               `json:"barcode" validate:"max=100"`
	MinStock         int                  `json:"min_stock" validate:"gte=0"`
	UnitType         UnitType             `json:"unit_type" validate:"omitempty,oneof=DISCRETE CASE"`
	ItemsPerCase     int                  `json:"items_per_case" validate:"gte=0"`
	BuyingPrice      decimal.Decimal      `json:"buying_price"`
	SellingPrice     decimal.Decimal      `json:"selling_price"`
	InitialStock     int                  `json:"initial_stock" validate:"gte=0"`
	InitialStockUnit UnitType             `json:"initial_stock_unit" validate:"omitempty,oneof=DISCRETE CASE"`
	Suppliers        []NewProductSupplier `json:"suppliers" validate:"dive"`
}

type ProductUpdate struct {
	DepartmentId *int            `json:"department_id"`
	Name         string          `json:"name" validate:"required,max=100"`
	Description  string          `json:"description"`
	Barcode      string          `json:"barcode" validate:"max=100"`
	MinStock     int             `json:"min_stock" validate:"gte=0"`
	BuyingPrice  decimal.Decimal `json:"buying_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

// normalizeSuppliers enforces the main-supplier rule: a single supplier is main,
// several suppliers need exactly one flagged main.
func normalizeSuppliers(input []NewProductSupplier) ([]NewProductSupplier, error) {
	if len(input) == 0 {
		return nil, nil
	}
	seen := make(map[int]struct{}, len(input))
	mains := 0
	out := make([]NewProductSupplier, 0, len(input))
	for _, s := range input {
		if _, dup := seen[s.SupplierId]; dup {
			return nil, fmt.Errorf("%w: supplier %d listed twice", utils.ErrValidation, s.SupplierId)
		}
		seen[s.SupplierId] = struct{}{}
		if s.IsMain {
			mains++
		}
		out = append(out, s)
	}
	if len(out) == 1 {
		out[0].IsMain = true
		return out, nil
	}
	if mains != 1 {
		return nil, fmt.Errorf("%w: exactly one main supplier required, got %d", utils.ErrValidation, mains)
	}
	return out, nil
}

func validatePrices(prices ...decimal.Decimal) error {
	for _, p := range prices {
		if p.IsNegative() {
			return fmt.Errorf("%w: price must not be negative", utils.ErrValidation)
		}
	}
	return nil
}

func validateDepartment(tx *gorm.DB, businessId string, warehouseId int, departmentId *int) error {
	if departmentId == nil {
		return nil
	}
	count, err := utils.ResourceCountWhereTx[Department](tx, businessId, "id = ? AND warehouse_id = ?", *departmentId, warehouseId)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: department %d in warehouse %d", utils.ErrUnknownReference, *departmentId, warehouseId)
	}
	return nil
}

func (input *NewProduct) validate(tx *gorm.DB, businessId string, id int) error {
	if err := utils.ValidateUniqueTx[Product](tx, businessId, "sku", input.Sku, id); err != nil {
		return err
	}
	if err := utils.ValidateResourceIdTx[Warehouse](tx, businessId, input.WarehouseId); err != nil {
		return err
	}
	if err := validateDepartment(tx, businessId, input.WarehouseId, input.DepartmentId); err != nil {
		return err
	}
	supplierIds := make([]int, 0, len(input.Suppliers))
	for _, s := range input.Suppliers {
		supplierIds = append(supplierIds, s.SupplierId)
	}
	return utils.ValidateResourcesIdTx[Supplier](tx, businessId, supplierIds)
}

func replaceProductSuppliers(tx *gorm.DB, businessId string, productId int, suppliers []NewProductSupplier) error {
	if err := tx.Where("business_id = ? AND product_id = ?", businessId, productId).
		Delete(&ProductSupplier{}).Error; err != nil {
		return err
	}
	if len(suppliers) == 0 {
		return nil
	}
	rows := make([]ProductSupplier, 0, len(suppliers))
	for _, s := range suppliers {
		rows = append(rows, ProductSupplier{
			BusinessId: businessId,
			ProductId:  productId,
			SupplierId: s.SupplierId,
			IsMain:     s.IsMain,
		})
	}
	return tx.Create(&rows).Error
}

// CreateProduct is quota-gated on the plan's product ceiling. The product's status comes
// from the approval gate; opening stock is recorded as an OPENING inbound movement at the
// same status, so it reaches current_stock only through the ledger.
func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := validatePrices(input.BuyingPrice, input.SellingPrice); err != nil {
		return nil, err
	}
	suppliers, err := normalizeSuppliers(input.Suppliers)
	if err != nil {
		return nil, err
	}
	input.Suppliers = suppliers

	unitType := input.UnitType
	if unitType == "" {
		unitType = UnitTypeDiscrete
	}
	itemsPerCase := input.ItemsPerCase
	if itemsPerCase < 1 {
		itemsPerCase = 1
	}
	status := DecideApproval(actor, MovementContext{Kind: TransactionTypeInbound, Origin: MovementOriginOpening})

	product := Product{
		BusinessId:   actor.BusinessId,
		WarehouseId:  input.WarehouseId,
		DepartmentId: input.DepartmentId,
		Name:         input.Name,
		Description:  input.Description,
		Sku:          input.Sku,
		Barcode:      input.Barcode,
		MinStock:     input.MinStock,
		UnitType:     unitType,
		ItemsPerCase: itemsPerCase,
		BuyingPrice:  input.BuyingPrice,
		SellingPrice: input.SellingPrice,
		Status:       status,
		CreatedById:  actor.userRef(),
	}

	err = atomicBatch(ctx, "CreateProduct", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		if err := CheckQuota(tx, actor.BusinessId, QuotaResourceProducts); err != nil {
			return err
		}
		if err := input.validate(tx, actor.BusinessId, 0); err != nil {
			return err
		}
		if err := tx.Omit("Suppliers").Create(&product).Error; err != nil {
			return err
		}
		if err := replaceProductSuppliers(tx, actor.BusinessId, product.ID, suppliers); err != nil {
			return err
		}
		if status == ApprovalStatusPending {
			events.approvalRequired(actor.BusinessId, ReferenceTypeProduct, product.ID, &product, map[string]interface{}{
				"sku":           product.Sku,
				"initial_stock": input.InitialStock,
			})
		}
		if input.InitialStock == 0 {
			return nil
		}
		var supplierId *int
		for _, s := range suppliers {
			if s.IsMain {
				id := s.SupplierId
				supplierId = &id
			}
		}
		txn, err := recordTransaction(tx, actor, &product, Movement{
			Kind:       TransactionTypeInbound,
			Origin:     MovementOriginOpening,
			ProductId:  product.ID,
			Unit:       input.InitialStockUnit,
			Quantity:   input.InitialStock,
			SupplierId: supplierId,
			Notes:      "opening stock",
		}, status, events)
		if err != nil {
			return err
		}
		if txn.StockAfter != nil {
			product.CurrentStock = *txn.StockAfter
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetProduct(ctx, product.ID)
}

// ProcessProduct approves or rejects a pending product together with its pending opening stock.
func ProcessProduct(ctx context.Context, id int, action ProcessAction) (*Product, error) {
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

	err = atomicBatch(ctx, "ProcessProduct", actor.BusinessId, func(tx *gorm.DB, events *eventBuffer) error {
		product, err := utils.FetchModelForUpdate[Product](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		if err := checkProductScope(tx, actor, map[int]*Product{product.ID: product}); err != nil {
			return err
		}
		if product.Status != ApprovalStatusPending {
			return fmt.Errorf("%w: product %d is %s", utils.ErrInvalidState, product.ID, product.Status)
		}

		var openings []*StockTransaction
		if err := tx.Where("business_id = ? AND product_id = ? AND origin = ? AND status = ?",
			actor.BusinessId, id, MovementOriginOpening, ApprovalStatusPending).
			Order("id").
			Find(&openings).Error; err != nil {
			return err
		}

		next := ApprovalStatusApproved
		for _, txn := range openings {
			if action == ProcessActionReject {
				err = rejectTransaction(tx, actor, txn)
			} else {
				err = applyTransactionEffect(tx, actor, txn, events)
			}
			if err != nil {
				return err
			}
		}
		if action == ProcessActionReject {
			next = ApprovalStatusRejected
		}
		return tx.Model(&Product{}).
			Where("business_id = ? AND id = ?", actor.BusinessId, id).
			Update("status", next).Error
	})
	if err != nil {
		return nil, err
	}
	return GetProduct(ctx, id)
}

// UpdateProduct edits catalogue fields. Stock, unit and warehouse are not editable here.
func UpdateProduct(ctx context.Context, id int, input *ProductUpdate) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := validatePrices(input.BuyingPrice, input.SellingPrice); err != nil {
		return nil, err
	}

	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := utils.FetchModelForUpdate[Product](tx, businessId, id)
		if err != nil {
			return err
		}
		if err := validateDepartment(tx, businessId, product.WarehouseId, input.DepartmentId); err != nil {
			return err
		}
		return tx.Model(&Product{}).
			Where("business_id = ? AND id = ?", businessId, id).
			Updates(map[string]interface{}{
				"department_id": input.DepartmentId,
				"name":          input.Name,
				"description":   input.Description,
				"barcode":       input.Barcode,
				"min_stock":     input.MinStock,
				"buying_price":  input.BuyingPrice,
				"selling_price": input.SellingPrice,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return GetProduct(ctx, id)
}

// SetProductSuppliers replaces a product's supplier links.
func SetProductSuppliers(ctx context.Context, productId int, input []NewProductSupplier) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	for i := range input {
		if err := utils.ValidateStruct(&input[i]); err != nil {
			return nil, err
		}
	}
	suppliers, err := normalizeSuppliers(input)
	if err != nil {
		return nil, err
	}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := utils.FetchModelForUpdate[Product](tx, businessId, productId); err != nil {
			return err
		}
		ids := make([]int, 0, len(suppliers))
		for _, s := range suppliers {
			ids = append(ids, s.SupplierId)
		}
		if err := utils.ValidateResourcesIdTx[Supplier](tx, businessId, ids); err != nil {
			return err
		}
		return replaceProductSuppliers(tx, businessId, productId, suppliers)
	})
	if err != nil {
		return nil, err
	}
	return GetProduct(ctx, productId)
}

// DeleteProduct removes a product nothing refers to. A product with stock history,
// order lines or procurement requests is kept.
func DeleteProduct(ctx context.Context, id int) (*Product, error) {
	actor, err := ActorFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.CanApprove() {
		return nil, utils.ErrPermissionDenied
	}

	var product *Product
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err = utils.FetchModelForUpdate[Product](tx, actor.BusinessId, id)
		if err != nil {
			return err
		}
		refs := []func() (int64, error){
			func() (int64, error) { return utils.ResourceCountWhereTx[StockTransaction](tx, actor.BusinessId, "product_id = ?", id) },
			func() (int64, error) { return utils.ResourceCountWhereTx[PurchaseOrderItem](tx, actor.BusinessId, "product_id = ?", id) },
			func() (int64, error) { return utils.ResourceCountWhereTx[ProcurementRequest](tx, actor.BusinessId, "product_id = ?", id) },
		}
		for _, count := range refs {
			n, err := count()
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: product %d is referenced", utils.ErrInvalidState, id)
			}
		}
		if err := replaceProductSuppliers(tx, actor.BusinessId, id, nil); err != nil {
			return err
		}
		return tx.Where("business_id = ?", actor.BusinessId).Delete(&Product{}, id).Error
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	return utils.FetchModel[Product](ctx, businessId, id, "Suppliers")
}

type ProductFilter struct {
	WarehouseId *int            `json:"warehouse_id"`
	Status      *ApprovalStatus `json:"status"`
	// LowStock keeps products at or below their minimum.
	LowStock bool `json:"low_stock"`
}

func ListProducts(ctx context.Context, filter ProductFilter) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrBusinessIdRequired
	}
	q := config.GetDB().WithContext(ctx).Where("business_id = ?", businessId)
	if filter.WarehouseId != nil {
		q = q.Where("warehouse_id = ?", *filter.WarehouseId)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.LowStock {
		q = q.Where("current_stock <= min_stock")
	}
	var results []*Product
	if err := q.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
