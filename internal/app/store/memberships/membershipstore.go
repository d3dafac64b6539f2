// internal/app/store/memberships/membershipstore.go
package membershipstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/auditlog"
	"github.com/dalemusser/tenancy/internal/app/system/normalize"
	"github.com/dalemusser/tenancy/internal/app/system/tokens"
	"github.com/dalemusser/tenancy/internal/app/system/txn"
	"github.com/dalemusser/tenancy/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EntityName is the audit entity for membership changes.
const EntityName = "user_membership"

// Mode selects how UpdateRoles combines the given roles with the existing set.
type Mode int

const (
	RolesReplace Mode = iota
	RolesAdd
	RolesRemoveListed
)

// tokenAttempts bounds invitation token generation when a collision is found.
const tokenAttempts = 3

var errTokenExhausted = errors.New("could not generate a unique invitation token")

// Store mutates the membership list embedded in each user document. The
// list is an aggregate: every operation loads the user, edits the list in
// memory and writes it back guarded by memberships_version.
type Store struct {
	users *mongo.Collection
	txn   *txn.Manager
	audit *auditlog.Logger
}

// New creates a membership store. tm and al may be nil.
func New(db *mongo.Database, tm *txn.Manager, al *auditlog.Logger) *Store {
	return &Store{
		users: db.Collection("users"),
		txn:   tm,
		audit: al,
	}
}

// CombineRoles applies mode to existing and roles. The result is
// normalized, free of duplicates and never nil.
func CombineRoles(existing, roles []string, mode Mode) []string {
	switch mode {
	case RolesAdd:
		return normalize.Roles(append(append([]string{}, existing...), roles...))
	case RolesRemoveListed:
		drop := make(map[string]struct{}, len(roles))
		for _, r := range normalize.Roles(roles) {
			drop[r] = struct{}{}
		}
		out := make([]string, 0, len(existing))
		for _, r := range normalize.Roles(existing) {
			if _, ok := drop[r]; !ok {
				out = append(out, r)
			}
		}
		return out
	default:
		return normalize.Roles(roles)
	}
}

func (s *Store) load(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NewNotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// save writes list as u's memberships if nobody else changed them since u
// was loaded, and advances u to the stored state.
func (s *Store) save(ctx context.Context, u *models.User, list []models.TenantMembership) error {
	if list == nil {
		list = []models.TenantMembership{}
	}
	now := time.Now().UTC()
	filter := bson.M{"_id": u.ID, "memberships_version": u.MembershipsVersion}
	if u.MembershipsVersion == 0 {
		// Documents written before versioning have no counter yet.
		filter["memberships_version"] = bson.M{"$in": bson.A{0, nil}}
	}
	update := bson.M{
		"$set": bson.M{"tenants": list, "updated_at": now},
		"$inc": bson.M{"memberships_version": 1},
	}
	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.ErrConflict
	}
	u.Tenants = list
	u.MembershipsVersion++
	u.UpdatedAt = now
	return nil
}

// without returns a copy of list minus the membership in tenantID.
func without(list []models.TenantMembership, tenantID primitive.ObjectID) []models.TenantMembership {
	out := make([]models.TenantMembership, 0, len(list))
	for _, m := range list {
		if m.TenantID != tenantID {
			out = append(out, m)
		}
	}
	return out
}

func replaced(list []models.TenantMembership, m models.TenantMembership) []models.TenantMembership {
	out := make([]models.TenantMembership, len(list))
	copy(out, list)
	for i := range out {
		if out[i].TenantID == m.TenantID {
			out[i] = m
			return out
		}
	}
	return append(out, m)
}

func auditValues(m models.TenantMembership) map[string]any {
	return map[string]any{
		"tenant_id": m.TenantID,
		"status":    string(m.Status),
		"roles":     m.Roles,
	}
}

// Create appends a membership for tenantID to the user. It does not check
// for an existing membership in the tenant; callers must.
func (s *Store) Create(ctx context.Context, tenantID, userID primitive.ObjectID, roles []string) (models.TenantMembership, error) {
	var out models.TenantMembership
	err := s.txn.Run(ctx, func(ctx context.Context) error {
		u, err := s.load(ctx, userID)
		if err != nil {
			return err
		}
		roles := normalize.Roles(roles)
		m := models.TenantMembership{
			TenantID:  tenantID,
			Status:    models.SelectStatus(models.MembershipActive, roles),
			Roles:     roles,
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.save(ctx, u, append(u.Tenants, m)); err != nil {
			return err
		}
		out = m
		return s.audit.Created(ctx, EntityName, userID, auditValues(m))
	})
	return out, err
}

// Destroy removes the user's membership in tenantID. Removing an absent
// membership is a no-op.
func (s *Store) Destroy(ctx context.Context, tenantID, userID primitive.ObjectID) error {
	return s.txn.Run(ctx, func(ctx context.Context) error {
		u, err := s.load(ctx, userID)
		if err != nil {
			return err
		}
		m, ok := u.Membership(tenantID)
		if !ok {
			return nil
		}
		list := without(u.Tenants, tenantID)
		if err := s.save(ctx, u, list); err != nil {
			return err
		}
		return s.audit.Deleted(ctx, EntityName, userID, auditValues(m))
	})
}

// UpdateRoles edits the user's roles in tenantID. When the user has no
// membership there, an invited membership with a fresh invitation token is
// created first; created reports that case.
func (s *Store) UpdateRoles(ctx context.Context, tenantID, userID primitive.ObjectID, roles []string, mode Mode) (m models.TenantMembership, created bool, err error) {
	err = s.txn.Run(ctx, func(ctx context.Context) error {
		u, err := s.load(ctx, userID)
		if err != nil {
			return err
		}

		var ok bool
		m, ok = u.Membership(tenantID)
		if !ok {
			token, err := s.newInvitationToken(ctx)
			if err != nil {
				return err
			}
			m = models.TenantMembership{
				TenantID:        tenantID,
				Status:          models.MembershipInvited,
				Roles:           []string{},
				InvitationToken: &token,
				UpdatedAt:       time.Now().UTC(),
			}
			if err := s.save(ctx, u, append(u.Tenants, m)); err != nil {
				return err
			}
			created = true
		}

		combined := CombineRoles(m.Roles, roles, mode)
		m.Status = models.SelectStatus(m.Status, combined)
		m.Roles = combined
		m.UpdatedAt = time.Now().UTC()
		if err := s.save(ctx, u, replaced(u.Tenants, m)); err != nil {
			return err
		}

		if created {
			return s.audit.Created(ctx, EntityName, userID, auditValues(m))
		}
		return s.audit.Updated(ctx, EntityName, userID, auditValues(m))
	})
	if err != nil {
		return models.TenantMembership{}, false, err
	}
	return m, created, nil
}

// AcceptInvitation turns the invited membership identified by token into
// an active membership of userID. Roles already held by userID in the
// tenant are merged with the invited roles. The invited membership is
// removed and the merged one pushed in one unit of work; without
// transactions the two writes are not atomic.
func (s *Store) AcceptInvitation(ctx context.Context, token string, userID primitive.ObjectID) (models.TenantMembership, error) {
	var out models.TenantMembership
	err := s.txn.Run(ctx, func(ctx context.Context) error {
		invited, owner, err := s.FindByInvitationToken(ctx, token)
		if err != nil {
			return err
		}
		if invited == nil {
			return apperr.NewNotFound("invitation")
		}
		tenantID := invited.TenantID

		// Drop the invitation from whoever holds it.
		list := without(owner.Tenants, tenantID)
		if err := s.save(ctx, owner, list); err != nil {
			return err
		}

		current := owner
		if owner.ID != userID {
			if current, err = s.load(ctx, userID); err != nil {
				return err
			}
		}

		merged := invited.Roles
		if existing, ok := current.Membership(tenantID); ok {
			merged = CombineRoles(existing.Roles, invited.Roles, RolesAdd)
		}
		merged = normalize.Roles(merged)

		out = models.TenantMembership{
			TenantID:  tenantID,
			Status:    models.SelectStatus(models.MembershipActive, merged),
			Roles:     merged,
			UpdatedAt: time.Now().UTC(),
		}
		list = without(current.Tenants, tenantID)
		if err := s.save(ctx, current, append(list, out)); err != nil {
			return err
		}

		values := auditValues(out)
		values["invited_user_id"] = owner.ID
		return s.audit.Updated(ctx, EntityName, userID, values)
	})
	if err != nil {
		return models.TenantMembership{}, err
	}
	return out, nil
}

// FindByInvitationToken returns the membership holding token and its
// owning user, or nil when no membership matches exactly.
func (s *Store) FindByInvitationToken(ctx context.Context, token string) (*models.TenantMembership, *models.User, error) {
	if token == "" {
		return nil, nil, nil
	}
	var u models.User
	err := s.users.FindOne(ctx, bson.M{"tenants.invitation_token": token}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	for i := range u.Tenants {
		if t := u.Tenants[i].InvitationToken; t != nil && *t == token {
			m := u.Tenants[i]
			return &m, &u, nil
		}
	}
	return nil, nil, nil
}

// FindByTenant returns every user holding a membership in tenantID, in
// name order. Results are full user records; callers presenting them to a
// tenant must redact them with tenantview.
func (s *Store) FindByTenant(ctx context.Context, tenantID primitive.ObjectID) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "full_name_ci", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{"tenants.tenant_id": tenantID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var users []models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// DestroyAllForTenant detaches every user from tenantID and returns the
// number of users changed.
func (s *Store) DestroyAllForTenant(ctx context.Context, tenantID primitive.ObjectID) (int64, error) {
	update := bson.M{
		"$pull": bson.M{"tenants": bson.M{"tenant_id": tenantID}},
		"$inc":  bson.M{"memberships_version": 1},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	res, err := s.users.UpdateMany(ctx, bson.M{"tenants.tenant_id": tenantID}, update)
	if err != nil {
		return 0, err
	}
	if res.ModifiedCount > 0 {
		values := map[string]any{"tenant_id": tenantID, "users": res.ModifiedCount}
		if err := s.audit.Deleted(ctx, EntityName, tenantID, values); err != nil {
			return res.ModifiedCount, err
		}
	}
	return res.ModifiedCount, nil
}

func (s *Store) newInvitationToken(ctx context.Context) (string, error) {
	for i := 0; i < tokenAttempts; i++ {
		t, err := tokens.New()
		if err != nil {
			return "", fmt.Errorf("invitation token: %w", err)
		}
		err = s.users.FindOne(ctx, bson.M{"tenants.invitation_token": t},
			options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return t, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errTokenExhausted
}
