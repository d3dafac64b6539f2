package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MembershipStatus is the lifecycle state of a user's membership in a tenant.
type MembershipStatus string

const (
	MembershipInvited          MembershipStatus = "invited"
	MembershipActive           MembershipStatus = "active"
	MembershipEmptyPermissions MembershipStatus = "empty-permissions"
)

// IsValid reports whether s is one of the known membership statuses.
func (s MembershipStatus) IsValid() bool {
	switch s {
	case MembershipInvited, MembershipActive, MembershipEmptyPermissions:
		return true
	}
	return false
}

// TenantMembership is embedded in User.Tenants. A user has at most one
// membership per tenant.
type TenantMembership struct {
	TenantID primitive.ObjectID `bson:"tenant_id" json:"tenant_id"`
	Status   MembershipStatus   `bson:"status" json:"status"`
	Roles    []string           `bson:"roles" json:"roles"`

	// Single-use token, present only while Status is invited.
	InvitationToken *string `bson:"invitation_token,omitempty" json:"-"`

	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// SelectStatus derives the membership status after a role edit.
// An invited membership stays invited until the invitation is accepted.
func SelectStatus(old MembershipStatus, roles []string) MembershipStatus {
	if old == MembershipInvited {
		return MembershipInvited
	}
	if len(roles) == 0 {
		return MembershipEmptyPermissions
	}
	return MembershipActive
}
