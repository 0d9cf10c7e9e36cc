package enablement

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/HollandStone/PlugPort/app/models"
	"github.com/HollandStone/PlugPort/app/repository"
	"github.com/HollandStone/PlugPort/internal/pkg/entitlement"
	"gorm.io/gorm"
)

var (
	ErrPluginNotFound     = errors.New("plugin not found")
	ErrEnablementExists   = errors.New("plugin is already configured for this tenant and organization")
	ErrEnablementNotFound = errors.New("plugin tenant enablement not found")
	ErrMissingTenantID    = errors.New("tenant id is required")
	ErrQuotaExceeded      = errors.New("plugin quota exceeded for this tenant")
)

// QuotaHints carries plan-derived quota defaults applied when an enablement
// is first created. Nil fields leave the quota unset (unlimited).
type QuotaHints struct {
	MaxActiveUsers   *int
	MaxInstallations *int
}

// HintsFromPlan extracts quota hints from a plan's limitations. Plans without
// limitations yield empty hints.
func HintsFromPlan(plan *models.PluginPlan) QuotaHints {
	hints := QuotaHints{}
	if plan == nil || !plan.HasLimitations {
		return hints
	}
	if v, ok := plan.Limitation(models.LimitationMaxActiveUsers); ok {
		hints.MaxActiveUsers = &v
	}
	if v, ok := plan.Limitation(models.LimitationMaxInstallations); ok {
		hints.MaxInstallations = &v
	}
	return hints
}

// FindOrCreateInput identifies the enablement key plus creation defaults.
type FindOrCreateInput struct {
	PluginID       string
	TenantID       string
	OrganizationID string
	Scope          string
	Hints          QuotaHints
}

// CreateInput is the administrative create command for an enablement record.
type CreateInput struct {
	PluginID            string
	TenantID            string
	OrganizationID      string
	Scope               string
	Enabled             bool
	AutoInstall         bool
	RequiresApproval    bool
	IsMandatory         bool
	MaxInstallations    *int
	MaxActiveUsers      *int
	TenantConfiguration map[string]any
	Preferences         map[string]any
	AllowedRoleIDs      []string
	AllowedUserIDs      []string
	DeniedUserIDs       []string
	ApprovedByID        string
}

// Service is the tenant enablement registry: it owns the per-(plugin,
// tenant, organization) switch-on records and their access lists.
type Service struct {
	plugins    repository.PluginRepository
	tenants    repository.PluginTenantRepository
	tx         repository.TxRunner
	invalidate func(pluginID, tenantID string)
}

// NewService creates an enablement service.
func NewService(plugins repository.PluginRepository, tenants repository.PluginTenantRepository, tx repository.TxRunner) *Service {
	return &Service{
		plugins: plugins,
		tenants: tenants,
		tx:      tx,
		invalidate: func(pluginID, tenantID string) {
			if err := entitlement.InvalidateAccess(pluginID, tenantID); err != nil {
				log.Printf("entitlement cache invalidation failed for plugin %s tenant %s: %v", pluginID, tenantID, err)
			}
		},
	}
}

// SetInvalidator overrides cache invalidation; tests pass a no-op.
func (s *Service) SetInvalidator(fn func(pluginID, tenantID string)) {
	s.invalidate = fn
}

// FindOrCreate returns the enablement id for the key, creating a record with
// the given defaults when none exists. Idempotent: an existing record is
// returned untouched, so repeated purchases never reset configured quotas.
// tx may be nil outside a transaction.
func (s *Service) FindOrCreate(tx *gorm.DB, in FindOrCreateInput) (string, error) {
	if in.TenantID == "" {
		return "", ErrMissingTenantID
	}

	repo := s.tenants.WithTx(tx)
	existing, err := repo.GetByKey(in.PluginID, in.TenantID, in.OrganizationID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	scope := in.Scope
	if scope == "" {
		scope = models.ScopeTenant
	}
	pt := &models.PluginTenant{
		PluginID:         in.PluginID,
		TenantID:         in.TenantID,
		OrganizationID:   in.OrganizationID,
		Scope:            scope,
		Enabled:          true,
		MaxActiveUsers:   in.Hints.MaxActiveUsers,
		MaxInstallations: in.Hints.MaxInstallations,
	}
	if err := repo.Create(pt); err != nil {
		// A concurrent purchase may have created the record between our
		// lookup and the insert. The unique key catches it; re-read.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, gerr := repo.GetByKey(in.PluginID, in.TenantID, in.OrganizationID)
			if gerr != nil {
				return "", gerr
			}
			return existing.ID, nil
		}
		return "", err
	}
	return pt.ID, nil
}

// RegisterSubscription counts a new subscription against the enablement's
// quotas and persists the counters. Fails with ErrQuotaExceeded when the
// installation quota, or the active-user quota for subscriptions held by a
// subscriber, is exhausted. tx may be nil outside a transaction.
func (s *Service) RegisterSubscription(tx *gorm.DB, enablementID, subscriberID string) error {
	repo := s.tenants.WithTx(tx)
	pt, err := repo.GetByID(enablementID)
	if err != nil {
		return err
	}
	if !pt.CanInstallMore() {
		return fmt.Errorf("%w: installation limit reached", ErrQuotaExceeded)
	}
	if subscriberID != "" && !pt.CanAddMoreUsers() {
		return fmt.Errorf("%w: active user limit reached", ErrQuotaExceeded)
	}
	pt.ConsumeUsage(subscriberID != "")
	return repo.Save(pt)
}

// ReleaseSubscription gives a deleted subscription's quota usage back.
func (s *Service) ReleaseSubscription(tx *gorm.DB, enablementID, subscriberID string) error {
	repo := s.tenants.WithTx(tx)
	pt, err := repo.GetByID(enablementID)
	if err != nil {
		return err
	}
	pt.ReleaseUsage(subscriberID != "")
	return repo.Save(pt)
}

// Create handles the administrative CreatePluginTenant command. Fails with
// ErrPluginNotFound for unknown plugins and ErrEnablementExists when the key
// is already configured.
func (s *Service) Create(in CreateInput) (*models.PluginTenant, error) {
	if in.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	exists, err := s.plugins.Exists(in.PluginID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, in.PluginID)
	}

	scope := in.Scope
	if scope == "" {
		scope = models.ScopeTenant
	}
	pt := &models.PluginTenant{
		PluginID:            in.PluginID,
		TenantID:            in.TenantID,
		OrganizationID:      in.OrganizationID,
		Scope:               scope,
		Enabled:             in.Enabled,
		AutoInstall:         in.AutoInstall,
		RequiresApproval:    in.RequiresApproval,
		IsMandatory:         in.IsMandatory,
		MaxInstallations:    in.MaxInstallations,
		MaxActiveUsers:      in.MaxActiveUsers,
		TenantConfiguration: models.NewJSONMap(in.TenantConfiguration),
		Preferences:         models.NewJSONMap(in.Preferences),
		AllowedRoles:        models.NewStringList(in.AllowedRoleIDs),
		AllowedUsers:        models.NewStringList(in.AllowedUserIDs),
		DeniedUsers:         models.NewStringList(in.DeniedUserIDs),
		ApprovedByID:        in.ApprovedByID,
	}
	if in.ApprovedByID != "" {
		now := time.Now()
		pt.ApprovedAt = &now
	}

	err = s.tx(func(tx *gorm.DB) error {
		repo := s.tenants.WithTx(tx)
		_, err := repo.GetByKey(in.PluginID, in.TenantID, in.OrganizationID)
		if err == nil {
			return ErrEnablementExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := repo.Create(pt); err != nil {
			// Lost a race against a concurrent create; the unique key on
			// (plugin_id, tenant_id, organization_id) rejects the insert.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEnablementExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(in.PluginID, in.TenantID)
	return pt, nil
}

// GetByID loads an enablement record.
func (s *Service) GetByID(id string) (*models.PluginTenant, error) {
	pt, err := s.tenants.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEnablementNotFound, id)
		}
		return nil, err
	}
	return pt, nil
}

// RemoveAllowedUser drops a user from the enablement's allowed list. Missing
// users are a no-op.
func (s *Service) RemoveAllowedUser(enablementID, userID string) error {
	pt, err := s.GetByID(enablementID)
	if err != nil {
		return err
	}
	if !pt.RemoveAllowedUser(userID) {
		return nil
	}
	if err := s.tenants.Save(pt); err != nil {
		return err
	}
	s.invalidate(pt.PluginID, pt.TenantID)
	return nil
}

// Delete hard-deletes the enablement and every subscription under it in one
// transaction.
func (s *Service) Delete(enablementID string) error {
	pt, err := s.GetByID(enablementID)
	if err != nil {
		return err
	}
	err = s.tx(func(tx *gorm.DB) error {
		return s.tenants.WithTx(tx).DeleteCascade(enablementID)
	})
	if err != nil {
		return err
	}
	s.invalidate(pt.PluginID, pt.TenantID)
	return nil
}
