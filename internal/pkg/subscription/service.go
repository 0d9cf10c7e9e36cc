package subscription

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/HollandStone/PlugPort/app/models"
	"github.com/HollandStone/PlugPort/app/repository"
	"github.com/HollandStone/PlugPort/internal/pkg/enablement"
	"github.com/HollandStone/PlugPort/internal/pkg/entitlement"
	"github.com/HollandStone/PlugPort/internal/pkg/plancatalog"
	"gorm.io/gorm"
)

var (
	ErrMissingTenantID      = errors.New("tenant id is required")
	ErrMissingOrganization  = errors.New("organization id is required for organization scope")
	ErrMissingSubscriber    = errors.New("subscriber id is required for user scope")
	ErrInvalidScope         = errors.New("invalid subscription scope")
	ErrPluginNotFound       = errors.New("plugin not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("an active subscription already exists for this plugin; use upgrade or downgrade instead")
	ErrInvalidTransition    = errors.New("invalid subscription status transition")
)

// Service is the subscription lifecycle manager. Every write runs inside one
// transaction; the purchase path takes a per-key advisory lock plus a row
// lock so concurrent purchases for the same key serialize instead of racing
// check-then-act, including when no row exists yet.
type Service struct {
	plugins     repository.PluginRepository
	subs        repository.SubscriptionRepository
	catalog     *plancatalog.Catalog
	enablements *enablement.Service
	tx          repository.TxRunner
	invalidate  func(pluginID, tenantID string)
	now         func() time.Time
}

// NewService creates a lifecycle service.
func NewService(
	plugins repository.PluginRepository,
	subs repository.SubscriptionRepository,
	catalog *plancatalog.Catalog,
	enablements *enablement.Service,
	tx repository.TxRunner,
) *Service {
	return &Service{
		plugins:     plugins,
		subs:        subs,
		catalog:     catalog,
		enablements: enablements,
		tx:          tx,
		invalidate: func(pluginID, tenantID string) {
			if err := entitlement.InvalidateAccess(pluginID, tenantID); err != nil {
				log.Printf("entitlement cache invalidation failed for plugin %s tenant %s: %v", pluginID, tenantID, err)
			}
		},
		now: time.Now,
	}
}

// SetInvalidator overrides cache invalidation; tests pass a no-op.
func (s *Service) SetInvalidator(fn func(pluginID, tenantID string)) {
	s.invalidate = fn
}

// SetClock overrides the time source; tests pin it.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func validatePurchase(in PurchaseInput) error {
	if in.TenantID == "" {
		return ErrMissingTenantID
	}
	switch in.Scope {
	case models.ScopeUser:
		if in.SubscriberID == "" {
			return ErrMissingSubscriber
		}
	case models.ScopeOrganization:
		if in.OrganizationID == "" {
			return ErrMissingOrganization
		}
	case models.ScopeTenant:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScope, in.Scope)
	}
	return nil
}

// Purchase creates a new subscription for the (plugin, subscriber, tenant,
// organization) key. A live subscription for the key is a conflict; a
// terminal leftover is replaced atomically within the same transaction. New
// keys count against the enablement's quotas and fail with
// enablement.ErrQuotaExceeded when exhausted.
func (s *Service) Purchase(in PurchaseInput) (*models.PluginSubscription, error) {
	if err := validatePurchase(in); err != nil {
		return nil, err
	}

	var sub *models.PluginSubscription
	err := s.tx(func(tx *gorm.DB) error {
		repo := s.subs.WithTx(tx)

		// Serialize purchases for the key up front. The row lock below
		// only covers keys that already have a row; two first purchases
		// would both read nothing and both insert without this.
		if err := repo.LockPurchaseKey(in.PluginID, in.SubscriberID, in.TenantID, in.OrganizationID); err != nil {
			return err
		}
		defer func() {
			if err := repo.UnlockPurchaseKey(in.PluginID, in.SubscriberID, in.TenantID, in.OrganizationID); err != nil {
				log.Printf("failed to release purchase lock for plugin %s tenant %s: %v", in.PluginID, in.TenantID, err)
			}
		}()

		exists, err := s.plugins.WithTx(tx).Exists(in.PluginID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, in.PluginID)
		}

		var plan *models.PluginPlan
		if in.PlanID != "" {
			plan, err = s.catalog.WithTx(tx).GetPlan(in.PlanID)
			if err != nil {
				return err
			}
		}

		sub = s.buildSubscription(in, plan)

		existing, err := repo.GetByKeyForUpdate(in.PluginID, sub.SubscriberID, in.TenantID, in.OrganizationID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			if existing.IsLive() {
				return ErrSubscriptionExists
			}
			// Terminal leftover: clear it so the key stays unique.
			if err := repo.Delete(existing.ID); err != nil {
				return err
			}
		}

		enablementID, err := s.enablements.FindOrCreate(tx, enablement.FindOrCreateInput{
			PluginID:       in.PluginID,
			TenantID:       in.TenantID,
			OrganizationID: in.OrganizationID,
			Scope:          in.Scope,
			Hints:          enablement.HintsFromPlan(plan),
		})
		if err != nil {
			return err
		}
		sub.PluginTenantID = enablementID

		// A replaced terminal subscription already holds its quota usage;
		// only a genuinely new key consumes quota.
		if existing == nil {
			if err := s.enablements.RegisterSubscription(tx, enablementID, sub.SubscriberID); err != nil {
				return err
			}
		}

		return repo.Create(sub)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(in.PluginID, in.TenantID)
	return sub, nil
}

// buildSubscription derives status, scope and expiry from the plan kind.
func (s *Service) buildSubscription(in PurchaseInput, plan *models.PluginPlan) *models.PluginSubscription {
	now := s.now()
	sub := &models.PluginSubscription{
		PluginID:       in.PluginID,
		TenantID:       in.TenantID,
		OrganizationID: in.OrganizationID,
		SubscriberID:   in.SubscriberID,
		PlanID:         in.PlanID,
		Scope:          in.Scope,
		StartDate:      now,
		AutoRenew:      in.AutoRenew,
	}

	if plan == nil {
		// A grant without a plan is always personal and immediate.
		sub.Scope = models.ScopeUser
		sub.Status = models.SubscriptionStatusActive
	} else {
		switch kind := plancatalog.Classify(plan).(type) {
		case plancatalog.Free:
			sub.Status = models.SubscriptionStatusActive
		case plancatalog.Trial:
			sub.Status = models.SubscriptionStatusTrial
			end := plancatalog.TrialEnd(kind.Days, now)
			sub.EndDate = &end
		case plancatalog.Paid:
			sub.Status = models.SubscriptionStatusPending
			end := plancatalog.PeriodEnd(kind.Period, now)
			sub.EndDate = &end
			sub.PaymentMethod = in.PaymentMethod
		}
	}

	sub.MergeMetadata(in.Metadata)
	if in.PromoCode != "" {
		sub.MergeMetadata(map[string]any{models.MetadataKeyPromoCode: in.PromoCode})
	}
	return sub
}

// Activate moves a pending or trialing subscription to active, typically on
// payment confirmation. Paid plans get a fresh billing period.
func (s *Service) Activate(id string) (*models.PluginSubscription, error) {
	sub, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusPending && sub.Status != models.SubscriptionStatusTrial {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, models.SubscriptionStatusActive)
	}

	sub.Status = models.SubscriptionStatusActive
	if sub.PlanID != "" {
		if plan, err := s.catalog.GetPlan(sub.PlanID); err == nil {
			if kind, ok := plancatalog.Classify(plan).(plancatalog.Paid); ok {
				end := plancatalog.PeriodEnd(kind.Period, s.now())
				sub.EndDate = &end
			}
		}
	}
	if err := s.subs.Save(sub); err != nil {
		return nil, err
	}
	s.invalidate(sub.PluginID, sub.TenantID)
	return sub, nil
}

// Expire moves a trialing or active subscription to expired, typically when
// a trial runs out or a renewal fails.
func (s *Service) Expire(id string) (*models.PluginSubscription, error) {
	sub, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusTrial && sub.Status != models.SubscriptionStatusActive {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, models.SubscriptionStatusExpired)
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusExpired
	if sub.EndDate == nil || sub.EndDate.After(now) {
		sub.EndDate = &now
	}
	if err := s.subs.Save(sub); err != nil {
		return nil, err
	}
	s.invalidate(sub.PluginID, sub.TenantID)
	return sub, nil
}

// Cancel moves a subscription to cancelled from any state.
func (s *Service) Cancel(id string) (*models.PluginSubscription, error) {
	sub, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return sub, nil
	}
	sub.Status = models.SubscriptionStatusCancelled
	if err := s.subs.Save(sub); err != nil {
		return nil, err
	}
	s.invalidate(sub.PluginID, sub.TenantID)
	return sub, nil
}

// GetByID loads a subscription, translating a missing row into
// ErrSubscriptionNotFound.
func (s *Service) GetByID(id string) (*models.PluginSubscription, error) {
	sub, err := s.subs.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return nil, err
	}
	return sub, nil
}

// ListByPluginID returns every subscription for a plugin.
func (s *Service) ListByPluginID(pluginID string) ([]models.PluginSubscription, error) {
	return s.subs.ListByPluginID(pluginID)
}

// ListBySubscriberID returns every subscription held by a subscriber.
func (s *Service) ListBySubscriberID(subscriberID string) ([]models.PluginSubscription, error) {
	return s.subs.ListBySubscriberID(subscriberID)
}
