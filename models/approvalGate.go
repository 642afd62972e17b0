package models

// MovementContext describes the movement being gated.
type MovementContext struct {
	Kind   TransactionType
	Origin MovementOrigin
	// GoodsReceived is only consulted for stock forms. Nil means received.
	GoodsReceived *bool
}

// DecideApproval is the single place that decides whether a movement applies to the
// ledger now (APPROVED) or waits for a manager (PENDING).
func DecideApproval(actor Actor, mc MovementContext) ApprovalStatus {
	switch mc.Origin {
	case MovementOriginOrder, MovementOriginRequest:
		// Receipts against orders and requests record goods already on hand.
		return ApprovalStatusApproved
	}
	if !actor.CanApprove() {
		return ApprovalStatusPending
	}
	if mc.Origin == MovementOriginForm && mc.GoodsReceived != nil && !*mc.GoodsReceived {
		return ApprovalStatusPending
	}
	return ApprovalStatusApproved
}
