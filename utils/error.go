package utils

import "errors"

var (
	ErrBusinessIdRequired = errors.New("business id is required")

	// ErrInsufficientStock: a decrement would take currentStock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrQuotaExceeded: the tenant's plan ceiling for a resource is reached.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidState: the entity is not in a state that admits the requested action.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnknownReference: a referenced product, order, item or request does not exist in the tenant.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrOverReceipt: receiving would push quantityReceived past quantityExpected.
	ErrOverReceipt = errors.New("over receipt")

	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
)
