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
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// MetadataKeyPromoCode is where a purchase stashes its promo code inside the
// subscription metadata document.
const MetadataKeyPromoCode = "promo_code"

// PluginSubscription is a time-bounded grant of plugin use tied to a plan and
// billing state. SubscriberID and OrganizationID use "" instead of NULL so
// the (plugin_id, subscriber_id, tenant_id, organization_id) key stays
// comparable in the lifecycle engine's conflict checks.
type PluginSubscription struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	PluginID       string         `gorm:"type:varchar(36);not null;index:idx_plugin_subscriptions_key,priority:1" json:"plugin_id" validate:"required"`
	PluginTenantID string         `gorm:"type:varchar(36);not null;index" json:"plugin_tenant_id" validate:"required"`
	TenantID       string         `gorm:"type:varchar(36);not null;index:idx_plugin_subscriptions_key,priority:3" json:"tenant_id" validate:"required"`
	OrganizationID string         `gorm:"type:varchar(36);not null;default:'';index:idx_plugin_subscriptions_key,priority:4" json:"organization_id,omitempty"`
	SubscriberID   string         `gorm:"type:varchar(36);not null;default:'';index:idx_plugin_subscriptions_key,priority:2;index" json:"subscriber_id,omitempty"`
	PlanID         string         `gorm:"type:varchar(36);not null;default:''" json:"plan_id,omitempty"`
	Scope          string         `gorm:"type:varchar(20);not null;default:'user'" json:"scope" validate:"oneof=user organization tenant"`
	Status         string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending trial active expired cancelled"`
	StartDate      time.Time      `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate        *time.Time     `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	AutoRenew      bool           `gorm:"not null;default:false" json:"auto_renew"`
	PaymentMethod  string         `gorm:"type:varchar(50);not null;default:''" json:"payment_method,omitempty"`
	Metadata       datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *PluginSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *PluginSubscription) Validate() error {
	v := validator.New()

	return v.Struct(s)
}

// IsLive reports whether the status counts toward the one-live-subscription
// uniqueness rule.
func (s *PluginSubscription) IsLive() bool {
	switch s.Status {
	case SubscriptionStatusPending, SubscriptionStatusTrial, SubscriptionStatusActive:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the subscription no longer blocks a new purchase
// for the same key.
func (s *PluginSubscription) IsTerminal() bool {
	return !s.IsLive()
}

// GrantsAccessAt reports whether the subscription entitles use at the given
// instant: live status and an end date that has not passed yet.
func (s *PluginSubscription) GrantsAccessAt(now time.Time) bool {
	if !s.IsLive() {
		return false
	}
	if s.EndDate != nil && !s.EndDate.After(now) {
		return false
	}
	return true
}

// MetadataValues decodes the metadata document. Never returns nil.
func (s *PluginSubscription) MetadataValues() map[string]any {
	values := map[string]any{}
	if len(s.Metadata) == 0 {
		return values
	}
	if err := json.Unmarshal(s.Metadata, &values); err != nil {
		return map[string]any{}
	}
	return values
}

// MergeMetadata overlays the given entries onto the stored document.
func (s *PluginSubscription) MergeMetadata(entries map[string]any) {
	if len(entries) == 0 {
		return
	}
	values := s.MetadataValues()
	for k, v := range entries {
		values[k] = v
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return
	}
	s.Metadata = datatypes.JSON(raw)
}

// PromoCode returns the promo code recorded at purchase time, if any.
func (s *PluginSubscription) PromoCode() string {
	if v, ok := s.MetadataValues()[MetadataKeyPromoCode].(string); ok {
		return v
	}
	return ""
}
