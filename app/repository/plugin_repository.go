package repository

import (
	"github.com/HollandStone/PlugPort/app/models"
	"gorm.io/gorm"
)

// pluginRepository implements the PluginRepository interface
type pluginRepository struct {
	db *gorm.DB
}

// NewPluginRepository creates a new plugin repository instance
func NewPluginRepository(db *gorm.DB) PluginRepository {
	return &pluginRepository{db: db}
}

func (r *pluginRepository) WithTx(tx *gorm.DB) PluginRepository {
	if tx == nil {
		return r
	}
	return &pluginRepository{db: tx}
}

func (r *pluginRepository) Create(plugin *models.Plugin) error {
	return r.db.Create(plugin).Error
}

func (r *pluginRepository) GetByID(id string) (*models.Plugin, error) {
	var plugin models.Plugin
	err := r.db.Where("id = ?", id).First(&plugin).Error
	if err != nil {
		return nil, err
	}
	return &plugin, nil
}

func (r *pluginRepository) Exists(id string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Plugin{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}
