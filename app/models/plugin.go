package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PLUGIN_STATUS_ACTIVE   = "active"
	PLUGIN_STATUS_INACTIVE = "inactive"
	PLUGIN_STATUS_ARCHIVED = "archived"
)

// Plugin is the marketplace registry record. PlugPort only reads it for
// existence checks and plan lookups; publishing and versioning live in the
// marketplace service.
type Plugin struct {
	ID          string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Description string         `gorm:"type:text" json:"description"`
	Status      string         `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"oneof=active inactive archived"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Plugin) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p *Plugin) Validate() error {
	v := validator.New()

	return v.Struct(p)
}
