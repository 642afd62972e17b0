package models

type Role string

const (
	RoleSuperAdmin    Role = "SUPER_ADMIN"
	RoleAdmin         Role = "ADMIN"
	RoleBranchManager Role = "BRANCH_MANAGER"
	RoleStaff         Role = "STAFF"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleBranchManager, RoleStaff:
		return true
	}
	return false
}

// UnitType is both a product's stocking unit and the unit a quantity is declared in.
type UnitType string

const (
	UnitTypeDiscrete UnitType = "DISCRETE"
	UnitTypeCase     UnitType = "CASE"
)

func (u UnitType) IsValid() bool {
	return u == UnitTypeDiscrete || u == UnitTypeCase
}

type TransactionType string

const (
	TransactionTypeInbound  TransactionType = "INBOUND"
	TransactionTypeOutbound TransactionType = "OUTBOUND"
	TransactionTypeWastage  TransactionType = "WASTAGE"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeInbound, TransactionTypeOutbound, TransactionTypeWastage:
		return true
	}
	return false
}

// Sign is +1 for stock-increasing movements and -1 for decreasing ones.
func (t TransactionType) Sign() int {
	if t == TransactionTypeInbound {
		return 1
	}
	return -1
}

// MovementOrigin names the mutation path a transaction came from.
type MovementOrigin string

const (
	MovementOriginOpening MovementOrigin = "OPENING"
	MovementOriginDirect  MovementOrigin = "DIRECT"
	MovementOriginForm    MovementOrigin = "FORM"
	MovementOriginOrder   MovementOrigin = "ORDER"
	MovementOriginRequest MovementOrigin = "REQUEST"
)

func (o MovementOrigin) IsValid() bool {
	switch o {
	case MovementOriginOpening, MovementOriginDirect, MovementOriginForm, MovementOriginOrder, MovementOriginRequest:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

type ProcessAction string

const (
	ProcessActionApprove ProcessAction = "APPROVE"
	ProcessActionReject  ProcessAction = "REJECT"
)

func (a ProcessAction) IsValid() bool {
	return a == ProcessActionApprove || a == ProcessActionReject
}

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusOrdered   PurchaseOrderStatus = "ORDERED"
	PurchaseOrderStatusPartial   PurchaseOrderStatus = "PARTIAL"
	PurchaseOrderStatusCompleted PurchaseOrderStatus = "COMPLETED"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "CANCELLED"
)

func (s PurchaseOrderStatus) IsTerminal() bool {
	return s == PurchaseOrderStatusCompleted || s == PurchaseOrderStatusCancelled
}

type ProcurementStatus string

const (
	ProcurementStatusPending   ProcurementStatus = "PENDING"
	ProcurementStatusApproved  ProcurementStatus = "APPROVED"
	ProcurementStatusOrdered   ProcurementStatus = "ORDERED"
	ProcurementStatusDelivered ProcurementStatus = "DELIVERED"
	ProcurementStatusRejected  ProcurementStatus = "REJECTED"
)

func (s ProcurementStatus) IsValid() bool {
	switch s {
	case ProcurementStatusPending, ProcurementStatusApproved, ProcurementStatusOrdered,
		ProcurementStatusDelivered, ProcurementStatusRejected:
		return true
	}
	return false
}

func (s ProcurementStatus) IsTerminal() bool {
	return s == ProcurementStatusDelivered || s == ProcurementStatusRejected
}

// procurementTransitions lists the allowed targets per source state. Terminal states have none.
var procurementTransitions = map[ProcurementStatus][]ProcurementStatus{
	ProcurementStatusPending:  {ProcurementStatusApproved, ProcurementStatusRejected},
	ProcurementStatusApproved: {ProcurementStatusOrdered, ProcurementStatusRejected},
	ProcurementStatusOrdered:  {ProcurementStatusDelivered, ProcurementStatusRejected},
}

func (s ProcurementStatus) CanTransitionTo(target ProcurementStatus) bool {
	for _, t := range procurementTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

type QuotaResource string

const (
	QuotaResourceProducts   QuotaResource = "PRODUCTS"
	QuotaResourceUsers      QuotaResource = "USERS"
	QuotaResourceWarehouses QuotaResource = "WAREHOUSES"
	QuotaResourceBranches   QuotaResource = "BRANCHES"
)

type EventType string

const (
	EventTypeApprovalRequired EventType = "APPROVAL_REQUIRED"
	EventTypeCriticalStock    EventType = "CRITICAL_STOCK"
	EventTypeRequestResolved  EventType = "REQUEST_RESOLVED"
)

type ReferenceType string

const (
	ReferenceTypeTransaction        ReferenceType = "STOCK_TRANSACTION"
	ReferenceTypeStockForm          ReferenceType = "STOCK_FORM"
	ReferenceTypeProduct            ReferenceType = "PRODUCT"
	ReferenceTypeProcurementRequest ReferenceType = "PROCUREMENT_REQUEST"
)
