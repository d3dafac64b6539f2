// Package tenantview redacts user records to what a tenant may see.
//
// Only members whose membership in the viewing tenant is active expose
// their profile. Invited and empty-permissions members expose id, email,
// roles and status. Users without a membership are not visible at all.
// Every tenant-scoped user lookup and listing must go through ForTenant.
package tenantview

import (
	"time"

	"github.com/dalemusser/tenancy/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Profile is the part of a user that only active tenant members expose.
type Profile struct {
	FullName      string    `json:"full_name"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// View is a user as seen from one tenant.
type View struct {
	ID      primitive.ObjectID      `json:"id"`
	Email   string                  `json:"email"`
	Roles   []string                `json:"roles"`
	Status  models.MembershipStatus `json:"status"`
	Profile *Profile                `json:"profile,omitempty"`
}

// ForTenant maps u to its view from tenantID. ok is false when u has no
// membership in the tenant; callers must then treat the user as not found.
func ForTenant(u *models.User, tenantID primitive.ObjectID) (v View, ok bool) {
	if u == nil {
		return View{}, false
	}
	m, ok := u.Membership(tenantID)
	if !ok {
		return View{}, false
	}

	roles := make([]string, len(m.Roles))
	copy(roles, m.Roles)
	v = View{
		ID:     u.ID,
		Email:  u.Email,
		Roles:  roles,
		Status: m.Status,
	}
	if m.Status == models.MembershipActive {
		v.Profile = &Profile{
			FullName:      u.FullName,
			FirstName:     u.FirstName,
			LastName:      u.LastName,
			Phone:         u.Phone,
			EmailVerified: u.EmailVerified,
			CreatedAt:     u.CreatedAt,
			UpdatedAt:     u.UpdatedAt,
		}
	}
	return v, true
}

// List maps users to their views from tenantID, dropping users that are
// not members of the tenant.
func List(users []models.User, tenantID primitive.ObjectID) []View {
	out := make([]View, 0, len(users))
	for i := range users {
		if v, ok := ForTenant(&users[i], tenantID); ok {
			out = append(out, v)
		}
	}
	return out
}
