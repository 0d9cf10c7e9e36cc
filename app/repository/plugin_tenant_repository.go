package repository

import (
	"github.com/HollandStone/PlugPort/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pluginTenantRepository implements the PluginTenantRepository interface
type pluginTenantRepository struct {
	db *gorm.DB
}

// NewPluginTenantRepository creates a new plugin tenant repository instance
func NewPluginTenantRepository(db *gorm.DB) PluginTenantRepository {
	return &pluginTenantRepository{db: db}
}

func (r *pluginTenantRepository) WithTx(tx *gorm.DB) PluginTenantRepository {
	if tx == nil {
		return r
	}
	return &pluginTenantRepository{db: tx}
}

func (r *pluginTenantRepository) Create(pt *models.PluginTenant) error {
	return r.db.Create(pt).Error
}

func (r *pluginTenantRepository) GetByID(id string) (*models.PluginTenant, error) {
	var pt models.PluginTenant
	err := r.db.Where("id = ?", id).First(&pt).Error
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *pluginTenantRepository) GetByKey(pluginID, tenantID, organizationID string) (*models.PluginTenant, error) {
	var pt models.PluginTenant
	err := r.db.
		Where("plugin_id = ? AND tenant_id = ? AND organization_id = ?", pluginID, tenantID, organizationID).
		First(&pt).Error
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *pluginTenantRepository) GetByKeyForUpdate(pluginID, tenantID, organizationID string) (*models.PluginTenant, error) {
	var pt models.PluginTenant
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plugin_id = ? AND tenant_id = ? AND organization_id = ?", pluginID, tenantID, organizationID).
		First(&pt).Error
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *pluginTenantRepository) Save(pt *models.PluginTenant) error {
	return r.db.Save(pt).Error
}

func (r *pluginTenantRepository) DeleteCascade(id string) error {
	if err := r.db.Where("plugin_tenant_id = ?", id).Delete(&models.PluginSubscription{}).Error; err != nil {
		return err
	}
	return r.db.Where("id = ?", id).Delete(&models.PluginTenant{}).Error
}
