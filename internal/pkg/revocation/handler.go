package revocation

import (
	"errors"
	"fmt"
	"log"

	"github.com/HollandStone/PlugPort/app/repository"
	"github.com/HollandStone/PlugPort/internal/pkg/enablement"
	"github.com/HollandStone/PlugPort/internal/pkg/entitlement"
	"github.com/HollandStone/PlugPort/internal/pkg/subscription"
	"gorm.io/gorm"
)

var (
	// ErrCascadeConfirmationRequired guards the high-blast-radius rule:
	// revoking the user who approved the plugin deletes the enablement and
	// every subscription under it, for every subscriber. Callers must opt
	// in explicitly.
	ErrCascadeConfirmationRequired = errors.New("subscriber approved this plugin for the tenant; revoking them deletes the enablement and all its subscriptions, pass confirm_cascade to proceed")

	ErrSubscriptionMismatch = errors.New("subscription does not belong to the given plugin tenant")
)

// Input identifies which subscription to revoke and for whom.
type Input struct {
	SubscriptionID string
	PluginTenantID string
	// SubscriberID defaults to the subscription's own subscriber.
	SubscriberID   string
	ConfirmCascade bool
}

// Result reports what the revocation actually removed.
type Result struct {
	Cascaded           bool `json:"cascaded"`
	RemovedFromAllowed bool `json:"removed_from_allowed"`
}

// Handler reacts to subscriber removal and explicit subscription deletion.
// All steps run in one transaction; there is no partial commit.
type Handler struct {
	tenants    repository.PluginTenantRepository
	subs       repository.SubscriptionRepository
	tx         repository.TxRunner
	invalidate func(pluginID, tenantID string)
}

// NewHandler creates a revocation handler.
func NewHandler(tenants repository.PluginTenantRepository, subs repository.SubscriptionRepository, tx repository.TxRunner) *Handler {
	return &Handler{
		tenants: tenants,
		subs:    subs,
		tx:      tx,
		invalidate: func(pluginID, tenantID string) {
			if err := entitlement.InvalidateAccess(pluginID, tenantID); err != nil {
				log.Printf("entitlement cache invalidation failed for plugin %s tenant %s: %v", pluginID, tenantID, err)
			}
		},
	}
}

// SetInvalidator overrides cache invalidation; tests pass a no-op.
func (h *Handler) SetInvalidator(fn func(pluginID, tenantID string)) {
	h.invalidate = fn
}

// Revoke removes a subscriber's access: it drops them from the enablement's
// allowed list and deletes their subscription. When the subscriber is the
// one who approved the plugin for the tenant, the whole enablement is
// deleted instead, cascading to every subscription under it.
func (h *Handler) Revoke(in Input) (*Result, error) {
	result := &Result{}

	var pluginID, tenantID string
	err := h.tx(func(tx *gorm.DB) error {
		tenants := h.tenants.WithTx(tx)
		subs := h.subs.WithTx(tx)

		sub, err := subs.GetByID(in.SubscriptionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", subscription.ErrSubscriptionNotFound, in.SubscriptionID)
			}
			return err
		}

		pt, err := tenants.GetByID(in.PluginTenantID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", enablement.ErrEnablementNotFound, in.PluginTenantID)
			}
			return err
		}
		if sub.PluginTenantID != pt.ID {
			return ErrSubscriptionMismatch
		}
		pluginID, tenantID = pt.PluginID, pt.TenantID

		subscriberID := in.SubscriberID
		if subscriberID == "" {
			subscriberID = sub.SubscriberID
		}

		if subscriberID != "" && pt.ApprovedByID == subscriberID {
			if !in.ConfirmCascade {
				return ErrCascadeConfirmationRequired
			}
			result.Cascaded = true
			return tenants.DeleteCascade(pt.ID)
		}

		if subscriberID != "" && pt.RemoveAllowedUser(subscriberID) {
			result.RemovedFromAllowed = true
		}
		// The deleted subscription's quota usage goes back to the pool.
		pt.ReleaseUsage(sub.SubscriberID != "")
		if err := tenants.Save(pt); err != nil {
			return err
		}
		return subs.Delete(sub.ID)
	})
	if err != nil {
		return nil, err
	}

	h.invalidate(pluginID, tenantID)
	return result, nil
}
