package repository

import (
	"github.com/HollandStone/PlugPort/app/models"
	"gorm.io/gorm"
)

// PluginRepository defines read access to the plugin registry records.
// WithTx returns a copy bound to the given transaction handle.
type PluginRepository interface {
	Create(plugin *models.Plugin) error
	GetByID(id string) (*models.Plugin, error)
	Exists(id string) (bool, error)
	WithTx(tx *gorm.DB) PluginRepository
}

// PlanRepository defines read access to the plan catalog.
// WithTx returns a copy bound to the given transaction handle.
type PlanRepository interface {
	Create(plan *models.PluginPlan) error
	GetByID(id string) (*models.PluginPlan, error)
	// ListByPluginID returns the active plans registered for a plugin.
	ListByPluginID(pluginID string) ([]models.PluginPlan, error)
	// HasPaidPlans reports whether the plugin carries at least one active
	// non-free plan, i.e. whether access requires a subscription.
	HasPaidPlans(pluginID string) (bool, error)
	WithTx(tx *gorm.DB) PlanRepository
}

// PluginTenantRepository manages tenant enablement records.
// WithTx returns a copy bound to the given transaction handle.
type PluginTenantRepository interface {
	Create(pt *models.PluginTenant) error
	GetByID(id string) (*models.PluginTenant, error)
	// GetByKey resolves the unique (plugin, tenant, organization) record;
	// organizationID "" addresses the tenant-wide record.
	GetByKey(pluginID, tenantID, organizationID string) (*models.PluginTenant, error)
	GetByKeyForUpdate(pluginID, tenantID, organizationID string) (*models.PluginTenant, error)
	Save(pt *models.PluginTenant) error
	// DeleteCascade removes the enablement and every subscription that
	// references it. Callers wrap it in a transaction via WithTx.
	DeleteCascade(id string) error
	WithTx(tx *gorm.DB) PluginTenantRepository
}

// SubscriptionRepository manages plugin subscription records.
// WithTx returns a copy bound to the given transaction handle.
type SubscriptionRepository interface {
	Create(sub *models.PluginSubscription) error
	GetByID(id string) (*models.PluginSubscription, error)
	// GetByKey resolves the subscription for the uniqueness key. Only one
	// live row may exist per key; terminal rows are replaced on purchase.
	GetByKey(pluginID, subscriberID, tenantID, organizationID string) (*models.PluginSubscription, error)
	// GetByKeyForUpdate takes a row lock so concurrent purchases for the
	// same key serialize inside their transactions.
	GetByKeyForUpdate(pluginID, subscriberID, tenantID, organizationID string) (*models.PluginSubscription, error)
	// LockPurchaseKey takes an advisory lock on the uniqueness key. Row
	// locks cannot serialize the first purchase for a key, when there is no
	// row to lock yet, so purchases take this lock up front. The lock is
	// connection-scoped; callers release it with UnlockPurchaseKey on the
	// same transaction handle.
	LockPurchaseKey(pluginID, subscriberID, tenantID, organizationID string) error
	UnlockPurchaseKey(pluginID, subscriberID, tenantID, organizationID string) error
	ListLiveByPluginAndTenant(pluginID, tenantID string) ([]models.PluginSubscription, error)
	ListByPluginID(pluginID string) ([]models.PluginSubscription, error)
	ListBySubscriberID(subscriberID string) ([]models.PluginSubscription, error)
	Save(sub *models.PluginSubscription) error
	Delete(id string) error
	WithTx(tx *gorm.DB) SubscriptionRepository
}
