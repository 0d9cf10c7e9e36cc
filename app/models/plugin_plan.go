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
	BillingPeriodDaily      = "daily"
	BillingPeriodWeekly     = "weekly"
	BillingPeriodMonthly    = "monthly"
	BillingPeriodQuarterly  = "quarterly"
	BillingPeriodYearly     = "yearly"
	BillingPeriodOneTime    = "one_time"
	BillingPeriodUsageBased = "usage_based"
)

// Well-known limitation keys inside PluginPlan.Limitations.
const (
	LimitationMaxActiveUsers   = "max_active_users"
	LimitationMaxInstallations = "max_installations"
)

// PluginPlan is catalog data: administrators create plans, the lifecycle
// engine only reads them to classify a purchase and compute expiry.
type PluginPlan struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	PluginID       string         `gorm:"type:varchar(36);not null;index" json:"plugin_id" validate:"required"`
	Name           string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,max=150"`
	Description    string         `gorm:"type:text" json:"description"`
	Price          float64        `gorm:"type:decimal(10,2);not null;default:0" json:"price" validate:"gte=0"`
	Currency       string         `gorm:"type:varchar(3);not null;default:'USD'" json:"currency" validate:"len=3"`
	BillingPeriod  string         `gorm:"type:varchar(20);not null;default:'monthly'" json:"billing_period" validate:"oneof=daily weekly monthly quarterly yearly one_time usage_based"`
	IsFree         bool           `gorm:"not null;default:false" json:"is_free"`
	HasTrial       bool           `gorm:"not null;default:false" json:"has_trial"`
	TrialDays      int            `gorm:"not null;default:0" json:"trial_days" validate:"gte=0"`
	HasLimitations bool           `gorm:"not null;default:false" json:"has_limitations"`
	Limitations    datatypes.JSON `gorm:"type:json" json:"limitations,omitempty"`
	IsActive       bool           `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *PluginPlan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p *PluginPlan) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// LimitationValues decodes the limitations document into a flat quota map.
// Returns an empty map when the plan has no limitations configured.
func (p *PluginPlan) LimitationValues() map[string]int {
	if !p.HasLimitations || len(p.Limitations) == 0 {
		return map[string]int{}
	}
	values := map[string]int{}
	if err := json.Unmarshal(p.Limitations, &values); err != nil {
		return map[string]int{}
	}
	return values
}

// Limitation returns a single named quota and whether it is configured.
func (p *PluginPlan) Limitation(key string) (int, bool) {
	v, ok := p.LimitationValues()[key]
	return v, ok
}
