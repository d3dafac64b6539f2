package models

import "testing"

func TestSelectStatus(t *testing.T) {
	tests := []struct {
		old   MembershipStatus
		roles []string
		want  MembershipStatus
	}{
		{MembershipInvited, nil, MembershipInvited},
		{MembershipInvited, []string{"admin"}, MembershipInvited},
		{MembershipActive, []string{"admin"}, MembershipActive},
		{MembershipActive, nil, MembershipEmptyPermissions},
		{MembershipActive, []string{}, MembershipEmptyPermissions},
		{MembershipEmptyPermissions, []string{"viewer"}, MembershipActive},
		{MembershipEmptyPermissions, nil, MembershipEmptyPermissions},
	}
	for _, tt := range tests {
		if got := SelectStatus(tt.old, tt.roles); got != tt.want {
			t.Errorf("SelectStatus(%q, %v) = %q, want %q", tt.old, tt.roles, got, tt.want)
		}
		if !tt.want.IsValid() {
			t.Errorf("%q is not a valid status", tt.want)
		}
	}
	if MembershipStatus("suspended").IsValid() {
		t.Error("unknown status reported valid")
	}
}
