package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a free-standing account. Tenant deletion detaches a user from
// the tenant but never deletes the user.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email      string             `bson:"email" json:"email"` // normalized, globally unique
	FullName   string             `bson:"full_name" json:"full_name"`
	FullNameCI string             `bson:"full_name_ci" json:"full_name_ci"` // lowercase, diacritics-stripped
	FirstName  string             `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName   string             `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Phone      string             `bson:"phone,omitempty" json:"phone,omitempty"`

	PasswordHash string `bson:"password_hash,omitempty" json:"-"`

	EmailVerified              bool       `bson:"email_verified" json:"email_verified"`
	EmailVerificationToken     *string    `bson:"email_verification_token,omitempty" json:"-"`
	EmailVerificationExpiresAt *time.Time `bson:"email_verification_expires_at,omitempty" json:"-"`
	PasswordResetToken         *string    `bson:"password_reset_token,omitempty" json:"-"`
	PasswordResetExpiresAt     *time.Time `bson:"password_reset_expires_at,omitempty" json:"-"`

	// Tenants is the membership aggregate. It is only written as a whole,
	// guarded by MembershipsVersion.
	Tenants            []TenantMembership `bson:"tenants" json:"tenants"`
	MembershipsVersion int64              `bson:"memberships_version" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Membership returns the user's membership in tenantID, if any.
func (u *User) Membership(tenantID primitive.ObjectID) (TenantMembership, bool) {
	for _, m := range u.Tenants {
		if m.TenantID == tenantID {
			return m, true
		}
	}
	return TenantMembership{}, false
}
