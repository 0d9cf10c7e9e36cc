package repository

import (
	"github.com/HollandStone/PlugPort/app/models"
	"gorm.io/gorm"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) WithTx(tx *gorm.DB) PlanRepository {
	if tx == nil {
		return r
	}
	return &planRepository{db: tx}
}

func (r *planRepository) Create(plan *models.PluginPlan) error {
	return r.db.Create(plan).Error
}

func (r *planRepository) GetByID(id string) (*models.PluginPlan, error) {
	var plan models.PluginPlan
	err := r.db.Where("id = ?", id).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) ListByPluginID(pluginID string) ([]models.PluginPlan, error) {
	var plans []models.PluginPlan
	err := r.db.Where("plugin_id = ? AND is_active = ?", pluginID, true).Order("price ASC").Find(&plans).Error
	return plans, err
}

func (r *planRepository) HasPaidPlans(pluginID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.PluginPlan{}).
		Where("plugin_id = ? AND is_active = ? AND is_free = ?", pluginID, true, false).
		Count(&count).Error
	return count > 0, err
}
