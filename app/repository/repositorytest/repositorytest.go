// Package repositorytest provides in-memory repository implementations for
// service-level tests. They mirror the query semantics of the GORM
// repositories, including the live-first ordering of key lookups, without
// needing a database.
package repositorytest

import (
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/HollandStone/PlugPort/app/models"
	"github.com/HollandStone/PlugPort/app/repository"
)

// Fakes bundles one in-memory repository per aggregate, wired together so
// cascading deletes work across them.
type Fakes struct {
	Plugins       *PluginRepo
	Plans         *PlanRepo
	PluginTenants *PluginTenantRepo
	Subscriptions *SubscriptionRepo
}

// New creates a connected set of in-memory repositories.
func New() *Fakes {
	subs := &SubscriptionRepo{byID: map[string]*models.PluginSubscription{}}
	return &Fakes{
		Plugins:       &PluginRepo{byID: map[string]*models.Plugin{}},
		Plans:         &PlanRepo{byID: map[string]*models.PluginPlan{}},
		PluginTenants: &PluginTenantRepo{byID: map[string]*models.PluginTenant{}, subs: subs},
		Subscriptions: subs,
	}
}

// PluginRepo is an in-memory repository.PluginRepository.
type PluginRepo struct {
	byID map[string]*models.Plugin
}

func (r *PluginRepo) Create(plugin *models.Plugin) error {
	if plugin.ID == "" {
		plugin.ID = uuid.NewString()
	}
	r.byID[plugin.ID] = plugin
	return nil
}

func (r *PluginRepo) GetByID(id string) (*models.Plugin, error) {
	if p, ok := r.byID[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *PluginRepo) Exists(id string) (bool, error) {
	_, ok := r.byID[id]
	return ok, nil
}

func (r *PluginRepo) WithTx(tx *gorm.DB) repository.PluginRepository {
	return r
}

// PlanRepo is an in-memory repository.PlanRepository.
type PlanRepo struct {
	byID map[string]*models.PluginPlan
}

func (r *PlanRepo) Create(plan *models.PluginPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	r.byID[plan.ID] = plan
	return nil
}

func (r *PlanRepo) GetByID(id string) (*models.PluginPlan, error) {
	if p, ok := r.byID[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *PlanRepo) ListByPluginID(pluginID string) ([]models.PluginPlan, error) {
	var out []models.PluginPlan
	for _, p := range r.byID {
		if p.PluginID == pluginID && p.IsActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *PlanRepo) HasPaidPlans(pluginID string) (bool, error) {
	for _, p := range r.byID {
		if p.PluginID == pluginID && p.IsActive && !p.IsFree {
			return true, nil
		}
	}
	return false, nil
}

func (r *PlanRepo) WithTx(tx *gorm.DB) repository.PlanRepository {
	return r
}

// PluginTenantRepo is an in-memory repository.PluginTenantRepository.
// CreateErr, when set, fails the next Create with that error; tests use it
// to simulate unique-key violations.
type PluginTenantRepo struct {
	byID      map[string]*models.PluginTenant
	subs      *SubscriptionRepo
	CreateErr error
}

func (r *PluginTenantRepo) Create(pt *models.PluginTenant) error {
	if r.CreateErr != nil {
		err := r.CreateErr
		r.CreateErr = nil
		return err
	}
	if pt.ID == "" {
		pt.ID = uuid.NewString()
	}
	r.byID[pt.ID] = pt
	return nil
}

func (r *PluginTenantRepo) GetByID(id string) (*models.PluginTenant, error) {
	if pt, ok := r.byID[id]; ok {
		return pt, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *PluginTenantRepo) GetByKey(pluginID, tenantID, organizationID string) (*models.PluginTenant, error) {
	for _, pt := range r.byID {
		if pt.PluginID == pluginID && pt.TenantID == tenantID && pt.OrganizationID == organizationID {
			return pt, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *PluginTenantRepo) GetByKeyForUpdate(pluginID, tenantID, organizationID string) (*models.PluginTenant, error) {
	return r.GetByKey(pluginID, tenantID, organizationID)
}

func (r *PluginTenantRepo) Save(pt *models.PluginTenant) error {
	r.byID[pt.ID] = pt
	return nil
}

func (r *PluginTenantRepo) DeleteCascade(id string) error {
	for subID, sub := range r.subs.byID {
		if sub.PluginTenantID == id {
			delete(r.subs.byID, subID)
		}
	}
	delete(r.byID, id)
	return nil
}

func (r *PluginTenantRepo) WithTx(tx *gorm.DB) repository.PluginTenantRepository {
	return r
}

// SubscriptionRepo is an in-memory repository.SubscriptionRepository. The
// purchase key lock is a no-op; LockCalls and UnlockCalls count the
// acquire/release pairs so tests can assert the lock is always released.
type SubscriptionRepo struct {
	byID        map[string]*models.PluginSubscription
	LockCalls   int
	UnlockCalls int
}

func (r *SubscriptionRepo) Create(sub *models.PluginSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	r.byID[sub.ID] = sub
	return nil
}

func (r *SubscriptionRepo) GetByID(id string) (*models.PluginSubscription, error) {
	if sub, ok := r.byID[id]; ok {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *SubscriptionRepo) matchKey(sub *models.PluginSubscription, pluginID, subscriberID, tenantID, organizationID string) bool {
	return sub.PluginID == pluginID && sub.SubscriberID == subscriberID &&
		sub.TenantID == tenantID && sub.OrganizationID == organizationID
}

// GetByKey prefers a live row over terminal leftovers, like the SQL ordering.
func (r *SubscriptionRepo) GetByKey(pluginID, subscriberID, tenantID, organizationID string) (*models.PluginSubscription, error) {
	var terminal *models.PluginSubscription
	for _, sub := range r.byID {
		if !r.matchKey(sub, pluginID, subscriberID, tenantID, organizationID) {
			continue
		}
		if sub.IsLive() {
			return sub, nil
		}
		terminal = sub
	}
	if terminal != nil {
		return terminal, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *SubscriptionRepo) GetByKeyForUpdate(pluginID, subscriberID, tenantID, organizationID string) (*models.PluginSubscription, error) {
	return r.GetByKey(pluginID, subscriberID, tenantID, organizationID)
}

func (r *SubscriptionRepo) LockPurchaseKey(pluginID, subscriberID, tenantID, organizationID string) error {
	r.LockCalls++
	return nil
}

func (r *SubscriptionRepo) UnlockPurchaseKey(pluginID, subscriberID, tenantID, organizationID string) error {
	r.UnlockCalls++
	return nil
}

func (r *SubscriptionRepo) ListLiveByPluginAndTenant(pluginID, tenantID string) ([]models.PluginSubscription, error) {
	var out []models.PluginSubscription
	for _, sub := range r.byID {
		if sub.PluginID == pluginID && sub.TenantID == tenantID && sub.IsLive() {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SubscriptionRepo) ListByPluginID(pluginID string) ([]models.PluginSubscription, error) {
	var out []models.PluginSubscription
	for _, sub := range r.byID {
		if sub.PluginID == pluginID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SubscriptionRepo) ListBySubscriberID(subscriberID string) ([]models.PluginSubscription, error) {
	var out []models.PluginSubscription
	for _, sub := range r.byID {
		if sub.SubscriberID == subscriberID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SubscriptionRepo) Save(sub *models.PluginSubscription) error {
	r.byID[sub.ID] = sub
	return nil
}

func (r *SubscriptionRepo) Delete(id string) error {
	delete(r.byID, id)
	return nil
}

func (r *SubscriptionRepo) WithTx(tx *gorm.DB) repository.SubscriptionRepository {
	return r
}

// Count returns the number of stored subscriptions.
func (r *SubscriptionRepo) Count() int {
	return len(r.byID)
}

// All returns every stored subscription.
func (r *SubscriptionRepo) All() []models.PluginSubscription {
	var out []models.PluginSubscription
	for _, sub := range r.byID {
		out = append(out, *sub)
	}
	return out
}

// Count returns the number of stored enablement records.
func (r *PluginTenantRepo) Count() int {
	return len(r.byID)
}
