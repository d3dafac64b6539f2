package membershipstore

import (
	"slices"
	"testing"

	"github.com/dalemusser/tenancy/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCombineRoles(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		roles    []string
		mode     Mode
		want     []string
	}{
		{"replace", []string{"a", "b"}, []string{"c"}, RolesReplace, []string{"c"}},
		{"replace with empty", []string{"a"}, nil, RolesReplace, []string{}},
		{"replace dedupes", nil, []string{"a", "a", " b "}, RolesReplace, []string{"a", "b"}},
		{"add is a union", []string{"a", "b"}, []string{"b", "c"}, RolesAdd, []string{"a", "b", "c"}},
		{"add to empty", []string{}, []string{"x"}, RolesAdd, []string{"x"}},
		{"remove listed", []string{"a", "b", "c"}, []string{"b", "z"}, RolesRemoveListed, []string{"a", "c"}},
		{"remove all", []string{"a"}, []string{"a"}, RolesRemoveListed, []string{}},
		{"remove nothing", []string{"a"}, nil, RolesRemoveListed, []string{"a"}},
		{"case is significant", []string{"Admin"}, []string{"admin"}, RolesAdd, []string{"Admin", "admin"}},
		{"remove is case sensitive", []string{"Admin"}, []string{"admin"}, RolesRemoveListed, []string{"Admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CombineRoles(tt.existing, tt.roles, tt.mode)
			if got == nil {
				t.Fatal("CombineRoles returned nil")
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("CombineRoles(%v, %v, %d) = %v, want %v", tt.existing, tt.roles, tt.mode, got, tt.want)
			}
		})
	}
}

func TestCombineRoles_DoesNotAliasExisting(t *testing.T) {
	existing := make([]string, 1, 4)
	existing[0] = "a"
	_ = CombineRoles(existing, []string{"b"}, RolesAdd)
	if got := existing[:2][1]; got != "" {
		t.Errorf("CombineRoles wrote into the caller's backing array: %q", got)
	}
}

func TestWithout(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	list := []models.TenantMembership{{TenantID: a}, {TenantID: b}}

	got := without(list, a)
	if len(got) != 1 || got[0].TenantID != b {
		t.Errorf("without(a) = %+v, want only b", got)
	}
	if got := without(list, primitive.NewObjectID()); len(got) != 2 {
		t.Errorf("without(unknown) dropped entries: %+v", got)
	}
	if list[0].TenantID != a || len(list) != 2 {
		t.Error("without modified its input")
	}
	if got := without(nil, a); got == nil {
		t.Error("without(nil) returned nil")
	}
}
