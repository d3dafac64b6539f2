package userstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/tenancy/internal/app/system/apperr"
	"github.com/dalemusser/tenancy/internal/app/system/auditlog"
	"github.com/dalemusser/tenancy/internal/app/system/normalize"
	"github.com/dalemusser/tenancy/internal/app/system/opctx"
	"github.com/dalemusser/tenancy/internal/app/system/tenantview"
	"github.com/dalemusser/tenancy/internal/app/system/tokens"
	"github.com/dalemusser/tenancy/internal/app/system/txn"
	"github.com/dalemusser/tenancy/internal/app/system/uniqueness"
	"github.com/dalemusser/tenancy/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

// Entity declares the unique fields of the users collection.
var Entity = uniqueness.Entity{
	Name:         "user",
	UniqueFields: []string{"email", "tenants.invitation_token"},
}

// Token lifetimes.
const (
	VerificationTTL = 48 * time.Hour
	ResetTTL        = time.Hour
)

var (
	// ErrInvalidCredentials is returned by CheckPassword for an unknown
	// email or a wrong password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned for unknown, used or expired tokens.
	ErrInvalidToken = errors.New("token is invalid or expired")
)

// Store is the users repository. Each write and its audit record form
// one unit of work.
type Store struct {
	c     *mongo.Collection
	txn   *txn.Manager
	audit *auditlog.Logger
	cost  int
}

// New creates a user store. tm and al may be nil.
func New(db *mongo.Database, tm *txn.Manager, al *auditlog.Logger) *Store {
	return &Store{c: db.Collection("users"), txn: tm, audit: al, cost: bcrypt.DefaultCost}
}

// WithHashCost returns a copy of s hashing passwords at cost.
func (s *Store) WithHashCost(cost int) *Store {
	c := *s
	c.cost = cost
	return &c
}

// NewUser holds the input for Create.
type NewUser struct {
	Email     string
	FullName  string
	FirstName string
	LastName  string
	Phone     string
	Password  string // optional
}

// ProfileUpdate holds the editable profile fields. An empty Email keeps
// the current address.
type ProfileUpdate struct {
	Email     string
	FullName  string
	FirstName string
	LastName  string
	Phone     string
}

func validation(ctx context.Context, field, key string) error {
	ve := apperr.NewValidation(opctx.Locale(ctx), key)
	ve.Field = field
	return ve
}

func (s *Store) hash(ctx context.Context, password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", validation(ctx, "password", "entities.user.errors.password.too_long")
	}
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Create inserts a new user after normalizing fields. A duplicate email
// yields a ValidationError keyed entities.user.errors.unique.email.
func (s *Store) Create(ctx context.Context, in NewUser) (models.User, error) {
	now := time.Now().UTC()
	u := models.User{
		ID:        primitive.NewObjectID(),
		Email:     normalize.Email(in.Email),
		FullName:  normalize.Name(in.FullName),
		FirstName: normalize.Name(in.FirstName),
		LastName:  normalize.Name(in.LastName),
		Phone:     normalize.Name(in.Phone),
		Tenants:   []models.TenantMembership{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.FullNameCI = text.Fold(u.FullName)
	if u.Email == "" {
		return models.User{}, validation(ctx, "email", "entities.user.errors.email.blank")
	}
	if in.Password != "" {
		h, err := s.hash(ctx, in.Password)
		if err != nil {
			return models.User{}, err
		}
		u.PasswordHash = h
	}

	err := s.txn.RunTranslated(ctx, Entity, func(ctx context.Context) error {
		if _, err := s.c.InsertOne(ctx, u); err != nil {
			return err
		}
		return s.audit.Created(ctx, Entity.Name, u.ID, map[string]any{"email": u.Email})
	})
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetByEmail looks up a user by case-insensitive email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"email": normalize.Email(email)})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := s.c.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NewNotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateProfile replaces the profile fields of a user. Changing the email
// clears its verified flag. If the email changes underneath the call the
// update is refused with apperr.ErrConflict.
func (s *Store) UpdateProfile(ctx context.Context, id primitive.ObjectID, upd ProfileUpdate) (*models.User, error) {
	fullName := normalize.Name(upd.FullName)
	email := normalize.Email(upd.Email)

	var u models.User
	err := s.txn.RunTranslated(ctx, Entity, func(ctx context.Context) error {
		set := bson.M{
			"full_name":    fullName,
			"full_name_ci": text.Fold(fullName),
			"first_name":   normalize.Name(upd.FirstName),
			"last_name":    normalize.Name(upd.LastName),
			"phone":        normalize.Name(upd.Phone),
			"updated_at":   time.Now().UTC(),
		}
		filter := bson.M{"_id": id}
		if email != "" {
			cur, err := s.GetByID(ctx, id)
			if err != nil {
				return err
			}
			set["email"] = email
			// Only a real change resets verification, and only against
			// the address that was read.
			if cur.Email != email {
				set["email_verified"] = false
				filter["email"] = cur.Email
			}
		}

		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		err := s.c.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&u)
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, ok := filter["email"]; ok {
				return apperr.ErrConflict
			}
			return apperr.NewNotFound("user")
		}
		if err != nil {
			return err
		}
		return s.audit.Updated(ctx, Entity.Name, id, map[string]any{"email": u.Email})
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CheckPassword returns the user with email when password matches.
func (s *Store) CheckPassword(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.GetByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// IssueEmailVerification stores a fresh verification token for the user
// and returns it. Any earlier token stops working.
func (s *Store) IssueEmailVerification(ctx context.Context, id primitive.ObjectID) (string, error) {
	return s.issue(ctx, bson.M{"_id": id}, "email_verification_token", "email_verification_expires_at", VerificationTTL)
}

// IssuePasswordReset stores a fresh reset token for the user with email
// and returns it.
func (s *Store) IssuePasswordReset(ctx context.Context, email string) (string, error) {
	return s.issue(ctx, bson.M{"email": normalize.Email(email)}, "password_reset_token", "password_reset_expires_at", ResetTTL)
}

func (s *Store) issue(ctx context.Context, filter bson.M, tokenField, expiryField string, ttl time.Duration) (string, error) {
	token, err := tokens.New()
	if err != nil {
		return "", fmt.Errorf("issue %s: %w", tokenField, err)
	}
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		tokenField:   token,
		expiryField:  now.Add(ttl),
		"updated_at": now,
	}})
	if err != nil {
		return "", err
	}
	if res.MatchedCount == 0 {
		return "", apperr.NewNotFound("user")
	}
	return token, nil
}

// consume applies set to the user holding an unexpired token, clears the
// token so it works once, and records the audit entry. A failed audit
// leaves the token usable.
func (s *Store) consume(ctx context.Context, tokenField, expiryField, token string, set bson.M, changes map[string]any) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	now := time.Now().UTC()
	set["updated_at"] = now
	filter := bson.M{tokenField: token, expiryField: bson.M{"$gt": now}}
	update := bson.M{
		"$set":   set,
		"$unset": bson.M{tokenField: "", expiryField: ""},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var u models.User
	err := s.txn.RunTranslated(ctx, Entity, func(ctx context.Context) error {
		err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		return s.audit.Updated(ctx, Entity.Name, u.ID, changes)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// VerifyEmail marks the email of the user holding token as verified.
func (s *Store) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	return s.consume(ctx, "email_verification_token", "email_verification_expires_at", token,
		bson.M{"email_verified": true}, map[string]any{"email_verified": true})
}

// ResetPassword sets a new password for the user holding token.
func (s *Store) ResetPassword(ctx context.Context, token, password string) (*models.User, error) {
	if password == "" {
		return nil, validation(ctx, "password", "entities.user.errors.password.blank")
	}
	h, err := s.hash(ctx, password)
	if err != nil {
		return nil, err
	}
	return s.consume(ctx, "password_reset_token", "password_reset_expires_at", token,
		bson.M{"password_hash": h}, map[string]any{"password_reset": true})
}

// FindInTenant returns the user as seen from tenantID. A user without a
// membership in the tenant is reported as not found.
func (s *Store) FindInTenant(ctx context.Context, tenantID, userID primitive.ObjectID) (tenantview.View, error) {
	u, err := s.findOne(ctx, bson.M{"_id": userID, "tenants.tenant_id": tenantID})
	if err != nil {
		return tenantview.View{}, err
	}
	v, ok := tenantview.ForTenant(u, tenantID)
	if !ok {
		return tenantview.View{}, apperr.NewNotFound("user")
	}
	return v, nil
}

// ListInTenant returns the members of tenantID in name order, each
// redacted to what the tenant may see.
func (s *Store) ListInTenant(ctx context.Context, tenantID primitive.ObjectID) ([]tenantview.View, error) {
	opts := options.Find().SetSort(bson.D{{Key: "full_name_ci", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"tenants.tenant_id": tenantID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var users []models.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return tenantview.List(users, tenantID), nil
}
