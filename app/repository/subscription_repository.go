package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/HollandStone/PlugPort/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrLockNotAcquired is returned when the purchase key lock cannot be taken
// within the wait window.
var ErrLockNotAcquired = errors.New("could not acquire purchase lock")

const purchaseLockWaitSeconds = 5

// liveStatuses are the statuses that count toward the uniqueness rule.
var liveStatuses = []string{
	models.SubscriptionStatusPending,
	models.SubscriptionStatusTrial,
	models.SubscriptionStatusActive,
}

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) WithTx(tx *gorm.DB) SubscriptionRepository {
	if tx == nil {
		return r
	}
	return &subscriptionRepository{db: tx}
}

func (r *subscriptionRepository) Create(sub *models.PluginSubscription) error {
	return r.db.Create(sub).Error
}

func (r *subscriptionRepository) GetByID(id string) (*models.PluginSubscription, error) {
	var sub models.PluginSubscription
	err := r.db.Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByKey(pluginID, subscriberID, tenantID, organizationID string) (*models.PluginSubscription, error) {
	var sub models.PluginSubscription
	err := r.keyQuery(r.db, pluginID, subscriberID, tenantID, organizationID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByKeyForUpdate(pluginID, subscriberID, tenantID, organizationID string) (*models.PluginSubscription, error) {
	var sub models.PluginSubscription
	err := r.keyQuery(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), pluginID, subscriberID, tenantID, organizationID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// purchaseLockName derives the advisory lock name for a uniqueness key. MySQL
// caps lock names at 64 characters, so the key is hashed.
func purchaseLockName(pluginID, subscriberID, tenantID, organizationID string) string {
	sum := sha256.Sum256([]byte(pluginID + "\x00" + subscriberID + "\x00" + tenantID + "\x00" + organizationID))
	return "plugport.sub." + hex.EncodeToString(sum[:20])
}

func (r *subscriptionRepository) LockPurchaseKey(pluginID, subscriberID, tenantID, organizationID string) error {
	var acquired int
	err := r.db.
		Raw("SELECT GET_LOCK(?, ?)", purchaseLockName(pluginID, subscriberID, tenantID, organizationID), purchaseLockWaitSeconds).
		Scan(&acquired).Error
	if err != nil {
		return err
	}
	if acquired != 1 {
		return fmt.Errorf("%w: plugin %s tenant %s", ErrLockNotAcquired, pluginID, tenantID)
	}
	return nil
}

func (r *subscriptionRepository) UnlockPurchaseKey(pluginID, subscriberID, tenantID, organizationID string) error {
	return r.db.
		Exec("SELECT RELEASE_LOCK(?)", purchaseLockName(pluginID, subscriberID, tenantID, organizationID)).Error
}

func (r *subscriptionRepository) keyQuery(db *gorm.DB, pluginID, subscriberID, tenantID, organizationID string) *gorm.DB {
	return db.
		Where("plugin_id = ? AND subscriber_id = ? AND tenant_id = ? AND organization_id = ?",
			pluginID, subscriberID, tenantID, organizationID).
		// Live rows first so the conflict check sees them before stale
		// terminal leftovers.
		Order("CASE WHEN status IN ('pending','trial','active') THEN 0 ELSE 1 END, created_at DESC")
}

func (r *subscriptionRepository) ListLiveByPluginAndTenant(pluginID, tenantID string) ([]models.PluginSubscription, error) {
	var subs []models.PluginSubscription
	err := r.db.
		Where("plugin_id = ? AND tenant_id = ? AND status IN ?", pluginID, tenantID, liveStatuses).
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) ListByPluginID(pluginID string) ([]models.PluginSubscription, error) {
	var subs []models.PluginSubscription
	err := r.db.Where("plugin_id = ?", pluginID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) ListBySubscriberID(subscriberID string) ([]models.PluginSubscription, error) {
	var subs []models.PluginSubscription
	err := r.db.Where("subscriber_id = ?", subscriberID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) Save(sub *models.PluginSubscription) error {
	return r.db.Save(sub).Error
}

func (r *subscriptionRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&models.PluginSubscription{}).Error
}
