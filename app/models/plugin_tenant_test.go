package models

import (
	"testing"
	"time"
)

func TestHasUserAccess(t *testing.T) {
	tests := []struct {
		name    string
		pt      PluginTenant
		userID  string
		roleIDs []string
		want    bool
	}{
		{
			name:   "denied user always loses",
			pt:     PluginTenant{Scope: ScopeTenant, DeniedUsers: NewStringList([]string{"u1"})},
			userID: "u1",
			want:   false,
		},
		{
			name:   "tenant scope admits everyone",
			pt:     PluginTenant{Scope: ScopeTenant, AllowedUsers: NewStringList([]string{"other"})},
			userID: "u1",
			want:   true,
		},
		{
			name:   "no lists configured admits everyone",
			pt:     PluginTenant{Scope: ScopeOrganization},
			userID: "u1",
			want:   true,
		},
		{
			name:   "allowed user passes",
			pt:     PluginTenant{Scope: ScopeUser, AllowedUsers: NewStringList([]string{"u1", "u2"})},
			userID: "u1",
			want:   true,
		},
		{
			name:   "unlisted user fails when list configured",
			pt:     PluginTenant{Scope: ScopeUser, AllowedUsers: NewStringList([]string{"u2"})},
			userID: "u1",
			want:   false,
		},
		{
			name:    "allowed role passes",
			pt:      PluginTenant{Scope: ScopeOrganization, AllowedRoles: NewStringList([]string{"admin"})},
			userID:  "u1",
			roleIDs: []string{"viewer", "admin"},
			want:    true,
		},
		{
			name:    "no matching role fails",
			pt:      PluginTenant{Scope: ScopeOrganization, AllowedRoles: NewStringList([]string{"admin"})},
			userID:  "u1",
			roleIDs: []string{"viewer"},
			want:    false,
		},
	}

	for _, tt := range tests {
		if got := tt.pt.HasUserAccess(tt.userID, tt.roleIDs); got != tt.want {
			t.Fatalf("%s: HasUserAccess(%q, %v) = %v, want %v", tt.name, tt.userID, tt.roleIDs, got, tt.want)
		}
	}
}

func TestRemoveAllowedUser(t *testing.T) {
	pt := PluginTenant{AllowedUsers: NewStringList([]string{"u1", "u2"})}

	if !pt.RemoveAllowedUser("u1") {
		t.Fatalf("expected removal of a listed user to report a change")
	}
	if got := pt.AllowedUserIDs(); len(got) != 1 || got[0] != "u2" {
		t.Fatalf("allowed users after removal = %v, want [u2]", got)
	}
	if pt.RemoveAllowedUser("u1") {
		t.Fatalf("removing a missing user must be a no-op")
	}
}

func TestQuotas(t *testing.T) {
	limit := 2
	unlimited := UnlimitedQuota

	pt := PluginTenant{MaxInstallations: &limit, CurrentInstalls: 1}
	if !pt.CanInstallMore() {
		t.Fatalf("expected headroom with 1 of 2 installs used")
	}
	pt.CurrentInstalls = 2
	if pt.CanInstallMore() {
		t.Fatalf("expected no headroom with the quota exhausted")
	}

	pt = PluginTenant{MaxActiveUsers: &unlimited, CurrentActiveUsers: 1000}
	if !pt.CanAddMoreUsers() {
		t.Fatalf("the -1 sentinel must mean unlimited")
	}
	pt = PluginTenant{CurrentActiveUsers: 1000}
	if !pt.CanAddMoreUsers() {
		t.Fatalf("a nil quota must mean unlimited")
	}
}

func TestIsAvailable(t *testing.T) {
	now := time.Now()

	pt := PluginTenant{Enabled: true}
	if !pt.IsAvailable() {
		t.Fatalf("enabled without approval requirement must be available")
	}

	pt = PluginTenant{Enabled: false}
	if pt.IsAvailable() {
		t.Fatalf("disabled enablement must not be available")
	}

	pt = PluginTenant{Enabled: true, RequiresApproval: true}
	if pt.IsAvailable() {
		t.Fatalf("approval required but not granted must not be available")
	}

	pt = PluginTenant{Enabled: true, RequiresApproval: true, ApprovedAt: &now}
	if !pt.IsAvailable() {
		t.Fatalf("approved enablement must be available")
	}
}
