package models

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ScopeUser         = "user"
	ScopeOrganization = "organization"
	ScopeTenant       = "tenant"
)

// UnlimitedQuota is the sentinel for "no limit" in MaxInstallations and
// MaxActiveUsers. A nil pointer also means unlimited.
const UnlimitedQuota = -1

// PluginTenant records that a plugin is switched on for a tenant, optionally
// scoped to one organization. It owns quotas, access lists and approval
// metadata. At most one row exists per (plugin_id, tenant_id,
// organization_id); OrganizationID uses "" instead of NULL so the composite
// unique index actually enforces that (MySQL treats NULLs as distinct).
type PluginTenant struct {
	ID                  string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	PluginID            string         `gorm:"type:varchar(36);not null;uniqueIndex:ux_plugin_tenants_key,priority:1" json:"plugin_id" validate:"required"`
	TenantID            string         `gorm:"type:varchar(36);not null;uniqueIndex:ux_plugin_tenants_key,priority:2;index" json:"tenant_id" validate:"required"`
	OrganizationID      string         `gorm:"type:varchar(36);not null;default:'';uniqueIndex:ux_plugin_tenants_key,priority:3" json:"organization_id,omitempty"`
	Scope               string         `gorm:"type:varchar(20);not null;default:'tenant'" json:"scope" validate:"oneof=user organization tenant"`
	Enabled             bool           `gorm:"not null;default:true" json:"enabled"`
	AutoInstall         bool           `gorm:"not null;default:false" json:"auto_install"`
	RequiresApproval    bool           `gorm:"not null;default:false" json:"requires_approval"`
	IsMandatory         bool           `gorm:"not null;default:false" json:"is_mandatory"`
	MaxInstallations    *int           `gorm:"default:null" json:"max_installations,omitempty"`
	MaxActiveUsers      *int           `gorm:"default:null" json:"max_active_users,omitempty"`
	CurrentInstalls     int            `gorm:"not null;default:0" json:"current_installations"`
	CurrentActiveUsers  int            `gorm:"not null;default:0" json:"current_active_users"`
	TenantConfiguration datatypes.JSON `gorm:"type:json" json:"tenant_configuration,omitempty"`
	Preferences         datatypes.JSON `gorm:"type:json" json:"preferences,omitempty"`
	AllowedRoles        datatypes.JSON `gorm:"type:json" json:"allowed_roles,omitempty"`
	AllowedUsers        datatypes.JSON `gorm:"type:json" json:"allowed_users,omitempty"`
	DeniedUsers         datatypes.JSON `gorm:"type:json" json:"denied_users,omitempty"`
	ApprovedAt          *time.Time     `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	ApprovedByID        string         `gorm:"type:varchar(36);not null;default:''" json:"approved_by_id,omitempty"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (pt *PluginTenant) BeforeCreate(tx *gorm.DB) error {
	if pt.ID == "" {
		pt.ID = uuid.NewString()
	}
	return nil
}

func (pt *PluginTenant) Validate() error {
	v := validator.New()

	return v.Struct(pt)
}

func decodeStringList(doc datatypes.JSON) []string {
	if len(doc) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(doc, &list); err != nil {
		return nil
	}
	return list
}

// NewStringList encodes a string slice as a JSON document column value.
func NewStringList(list []string) datatypes.JSON {
	if len(list) == 0 {
		return nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// NewJSONMap encodes a map as a JSON document column value.
func NewJSONMap(values map[string]any) datatypes.JSON {
	if len(values) == 0 {
		return nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// AllowedUserIDs returns the decoded allowed-users list.
func (pt *PluginTenant) AllowedUserIDs() []string {
	return decodeStringList(pt.AllowedUsers)
}

// AllowedRoleIDs returns the decoded allowed-roles list.
func (pt *PluginTenant) AllowedRoleIDs() []string {
	return decodeStringList(pt.AllowedRoles)
}

// DeniedUserIDs returns the decoded denied-users list.
func (pt *PluginTenant) DeniedUserIDs() []string {
	return decodeStringList(pt.DeniedUsers)
}

// IsUserDenied reports whether the user is explicitly blocked. A denied user
// never gains access regardless of subscriptions.
func (pt *PluginTenant) IsUserDenied(userID string) bool {
	for _, id := range pt.DeniedUserIDs() {
		if id == userID {
			return true
		}
	}
	return false
}

// HasUserAccess applies the enablement's access lists: denied users always
// lose, tenant scope admits everyone, and the allow lists only restrict when
// at least one of them is configured.
func (pt *PluginTenant) HasUserAccess(userID string, roleIDs []string) bool {
	if pt.IsUserDenied(userID) {
		return false
	}
	if pt.Scope == ScopeTenant {
		return true
	}

	allowedUsers := pt.AllowedUserIDs()
	allowedRoles := pt.AllowedRoleIDs()
	if len(allowedUsers) == 0 && len(allowedRoles) == 0 {
		return true
	}
	for _, id := range allowedUsers {
		if id == userID {
			return true
		}
	}
	for _, role := range roleIDs {
		for _, allowed := range allowedRoles {
			if role == allowed {
				return true
			}
		}
	}
	return false
}

// RemoveAllowedUser drops a user from the allowed list. Returns true when the
// list changed; a missing user is a no-op.
func (pt *PluginTenant) RemoveAllowedUser(userID string) bool {
	current := pt.AllowedUserIDs()
	next := make([]string, 0, len(current))
	for _, id := range current {
		if id != userID {
			next = append(next, id)
		}
	}
	if len(next) == len(current) {
		return false
	}
	pt.AllowedUsers = NewStringList(next)
	return true
}

func quotaAllows(max *int, current int) bool {
	if max == nil || *max == UnlimitedQuota {
		return true
	}
	return current < *max
}

// CanInstallMore reports whether the installation quota has headroom.
func (pt *PluginTenant) CanInstallMore() bool {
	return quotaAllows(pt.MaxInstallations, pt.CurrentInstalls)
}

// CanAddMoreUsers reports whether the active-user quota has headroom.
func (pt *PluginTenant) CanAddMoreUsers() bool {
	return quotaAllows(pt.MaxActiveUsers, pt.CurrentActiveUsers)
}

// ConsumeUsage counts a new subscription against the quota counters. Callers
// check CanInstallMore/CanAddMoreUsers first.
func (pt *PluginTenant) ConsumeUsage(hasSubscriber bool) {
	pt.CurrentInstalls++
	if hasSubscriber {
		pt.CurrentActiveUsers++
	}
}

// ReleaseUsage gives a deleted subscription's quota usage back. Counters
// never go below zero.
func (pt *PluginTenant) ReleaseUsage(hasSubscriber bool) {
	if pt.CurrentInstalls > 0 {
		pt.CurrentInstalls--
	}
	if hasSubscriber && pt.CurrentActiveUsers > 0 {
		pt.CurrentActiveUsers--
	}
}

// IsApproved reports whether an administrator signed off on this plugin.
func (pt *PluginTenant) IsApproved() bool {
	return pt.ApprovedByID != "" || pt.ApprovedAt != nil
}

// IsAvailable combines the enabled flag with the approval requirement.
func (pt *PluginTenant) IsAvailable() bool {
	if !pt.Enabled {
		return false
	}
	if pt.RequiresApproval && !pt.IsApproved() {
		return false
	}
	return true
}
