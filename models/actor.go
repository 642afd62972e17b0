package models

import (
	"context"

	"bitbucket.org/mmdatafocus/stock_backend/utils"
)

// Actor is the immutable permission snapshot of the caller, resolved once per operation.
type Actor struct {
	BusinessId     string
	UserId         int
	Role           Role
	BranchId       *int
	CanAutoApprove bool
}

// ActorFromContext reads the session values placed on ctx by the session middleware.
// An unknown or missing role resolves to STAFF.
func ActorFromContext(ctx context.Context) (Actor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return Actor{}, utils.ErrBusinessIdRequired
	}
	actor := Actor{BusinessId: businessId, Role: RoleStaff}
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		actor.UserId = userId
	}
	if role, ok := utils.GetRoleFromContext(ctx); ok && Role(role).IsValid() {
		actor.Role = Role(role)
	}
	if branchId, ok := utils.GetBranchIdFromContext(ctx); ok && branchId > 0 {
		b := branchId
		actor.BranchId = &b
	}
	if auto, ok := utils.GetCanAutoApproveFromContext(ctx); ok {
		actor.CanAutoApprove = auto
	}
	return actor, nil
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

// CanApprove reports whether the actor's movements apply immediately and whether
// they may process pending documents.
func (a Actor) CanApprove() bool {
	return a.IsAdmin() || a.Role == RoleBranchManager || a.CanAutoApprove
}

// InScope reports whether a document owned by branchId is within the actor's reach.
// Admins reach every branch. Anyone else reaches only their own branch, and nothing without one.
func (a Actor) InScope(branchId *int) bool {
	if a.IsAdmin() {
		return true
	}
	return a.BranchId != nil && branchId != nil && *a.BranchId == *branchId
}

func (a Actor) userRef() *int {
	if a.UserId == 0 {
		return nil
	}
	id := a.UserId
	return &id
}
