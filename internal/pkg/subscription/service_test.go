package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HollandStone/PlugPort/app/models"
	"github.com/HollandStone/PlugPort/app/repository"
	"github.com/HollandStone/PlugPort/app/repository/repositorytest"
	"github.com/HollandStone/PlugPort/internal/pkg/enablement"
	"github.com/HollandStone/PlugPort/internal/pkg/plancatalog"
)

var testNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *repositorytest.Fakes) {
	t.Helper()
	fakes := repositorytest.New()
	tx := repository.PassthroughTxRunner()

	enablements := enablement.NewService(fakes.Plugins, fakes.PluginTenants, tx)
	enablements.SetInvalidator(func(pluginID, tenantID string) {})

	svc := NewService(fakes.Plugins, fakes.Subscriptions, plancatalog.NewCatalog(fakes.Plans), enablements, tx)
	svc.SetInvalidator(func(pluginID, tenantID string) {})
	svc.SetClock(func() time.Time { return testNow })

	require.NoError(t, fakes.Plugins.Create(&models.Plugin{ID: "p1", Name: "Reports", Status: models.PLUGIN_STATUS_ACTIVE}))
	return svc, fakes
}

func TestPurchaseWithoutPlan(t *testing.T) {
	svc, fakes := newTestService(t)

	sub, err := svc.Purchase(PurchaseInput{
		PluginID:     "p1",
		Scope:        models.ScopeTenant,
		TenantID:     "t1",
		SubscriberID: "u1",
	})
	require.NoError(t, err)

	// A grant without a plan is always personal and immediately active,
	// whatever scope was requested.
	assert.Equal(t, models.ScopeUser, sub.Scope)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.EndDate)
	assert.NotEmpty(t, sub.PluginTenantID)
	assert.Equal(t, 1, fakes.PluginTenants.Count())
}

func TestPurchaseFreePlan(t *testing.T) {
	svc, fakes := newTestService(t)
	require.NoError(t, fakes.Plans.Create(&models.PluginPlan{ID: "free", PluginID: "p1", IsFree: true, IsActive: true}))

	sub, err := svc.Purchase(PurchaseInput{
		PluginID:       "p1",
		Scope:          models.ScopeOrganization,
		TenantID:       "t1",
		OrganizationID: "o1",
		PlanID:         "free",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ScopeOrganization, sub.Scope)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Nil(t, sub.EndDate)
}

func TestPurchaseTrialPlan(t *testing.T) {
	svc, fakes := newTestService(t)
	require.NoError(t, fakes.Plans.Create(&models.PluginPlan{
		ID: "trial", PluginID: "p1", HasTrial: true, TrialDays: 14,
		BillingPeriod: models.BillingPeriodMonthly, IsActive: true,
	}))

	sub, err := svc.Purchase(PurchaseInput{
		PluginID:     "p1",
		Scope:        models.ScopeUser,
		TenantID:     "t1",
		SubscriberID: "u1",
		PlanID:       "trial",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusTrial, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.WithinDuration(t, testNow.AddDate(0, 0, 14), *sub.EndDate, time.Second)
}

func TestPurchasePaidPlan(t *testing.T) {
	svc, fakes := newTestService(t)
	require.NoError(t, fakes.Plans.Create(&models.PluginPlan{
		ID: "pro", PluginID: "p1", BillingPeriod: models.BillingPeriodMonthly, IsActive: true,
	}))

	sub, err := svc.Purchase(PurchaseInput{
		PluginID:      "p1",
		Scope:         models.ScopeUser,
		TenantID:      "t1",
		SubscriberID:  "u1",
		PlanID:        "pro",
		PaymentMethod: "invoice",
		PromoCode:     "LAUNCH20",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.WithinDuration(t, testNow.AddDate(0, 1, 0), *sub.EndDate, time.Second)
	assert.Equal(t, "invoice", sub.PaymentMethod)
	assert.Equal(t, "LAUNCH20", sub.PromoCode())
}

func TestPurchaseConflict(t *testing.T) {
	svc, fakes := newTestService(t)

	in := PurchaseInput{PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1"}
	_, err := svc.Purchase(in)
	require.NoError(t, err)

	_, err = svc.Purchase(in)
	assert.ErrorIs(t, err, ErrSubscriptionExists)
	assert.Equal(t, 1, fakes.Subscriptions.Count())
}

func TestPurchaseReplacesTerminalSubscription(t *testing.T) {
	svc, fakes := newTestService(t)

	in := PurchaseInput{PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1"}
	first, err := svc.Purchase(in)
	require.NoError(t, err)

	_, err = svc.Expire(first.ID)
	require.NoError(t, err)

	second, err := svc.Purchase(in)
	require.NoError(t, err)

	assert.Equal(t, 1, fakes.Subscriptions.Count())
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, models.SubscriptionStatusActive, second.Status)
}

func TestPurchaseKeepsConfiguredQuotas(t *testing.T) {
	svc, fakes := newTestService(t)

	in := PurchaseInput{PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1"}
	first, err := svc.Purchase(in)
	require.NoError(t, err)

	// An administrator tightens the quota after the first purchase.
	pt, err := fakes.PluginTenants.GetByID(first.PluginTenantID)
	require.NoError(t, err)
	limit := 3
	pt.MaxActiveUsers = &limit
	require.NoError(t, fakes.PluginTenants.Save(pt))

	_, err = svc.Expire(first.ID)
	require.NoError(t, err)
	second, err := svc.Purchase(in)
	require.NoError(t, err)

	assert.Equal(t, first.PluginTenantID, second.PluginTenantID)
	pt, err = fakes.PluginTenants.GetByID(second.PluginTenantID)
	require.NoError(t, err)
	require.NotNil(t, pt.MaxActiveUsers)
	assert.Equal(t, 3, *pt.MaxActiveUsers)
}

func TestPurchaseValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		in   PurchaseInput
		want error
	}{
		{
			name: "missing tenant",
			in:   PurchaseInput{PluginID: "p1", Scope: models.ScopeUser, SubscriberID: "u1"},
			want: ErrMissingTenantID,
		},
		{
			name: "user scope without subscriber",
			in:   PurchaseInput{PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1"},
			want: ErrMissingSubscriber,
		},
		{
			name: "organization scope without organization",
			in:   PurchaseInput{PluginID: "p1", Scope: models.ScopeOrganization, TenantID: "t1"},
			want: ErrMissingOrganization,
		},
		{
			name: "unknown scope",
			in:   PurchaseInput{PluginID: "p1", Scope: "global", TenantID: "t1"},
			want: ErrInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Purchase(tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPurchaseUnknownPluginAndPlan(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Purchase(PurchaseInput{PluginID: "nope", Scope: models.ScopeTenant, TenantID: "t1"})
	assert.ErrorIs(t, err, ErrPluginNotFound)

	_, err = svc.Purchase(PurchaseInput{PluginID: "p1", Scope: models.ScopeTenant, TenantID: "t1", PlanID: "nope"})
	assert.ErrorIs(t, err, plancatalog.ErrPlanNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	svc, fakes := newTestService(t)
	require.NoError(t, fakes.Plans.Create(&models.PluginPlan{
		ID: "pro", PluginID: "p1", BillingPeriod: models.BillingPeriodMonthly, IsActive: true,
	}))

	sub, err := svc.Purchase(PurchaseInput{
		PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1", PlanID: "pro",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusPending, sub.Status)

	activated, err := svc.Activate(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, activated.Status)
	require.NotNil(t, activated.EndDate)
	assert.WithinDuration(t, testNow.AddDate(0, 1, 0), *activated.EndDate, time.Second)

	// Active -> active is not a valid transition.
	_, err = svc.Activate(sub.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	expired, err := svc.Expire(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, expired.Status)
	require.NotNil(t, expired.EndDate)
	assert.False(t, expired.EndDate.After(testNow))

	_, err = svc.Expire(sub.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	cancelled, err := svc.Cancel(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)

	// Cancel is idempotent.
	again, err := svc.Cancel(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, again.Status)
}

func TestTransitionUnknownSubscription(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Activate("missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	_, err = svc.GetByID("missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestPurchaseEnforcesActiveUserQuota(t *testing.T) {
	svc, fakes := newTestService(t)
	require.NoError(t, fakes.Plans.Create(&models.PluginPlan{
		ID: "team", PluginID: "p1", IsFree: true, IsActive: true,
		HasLimitations: true,
		Limitations: models.NewJSONMap(map[string]any{
			models.LimitationMaxActiveUsers: 1,
		}),
	}))

	first, err := svc.Purchase(PurchaseInput{
		PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1", PlanID: "team",
	})
	require.NoError(t, err)

	pt, err := fakes.PluginTenants.GetByID(first.PluginTenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, pt.CurrentActiveUsers)
	assert.Equal(t, 1, pt.CurrentInstalls)

	_, err = svc.Purchase(PurchaseInput{
		PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u2", PlanID: "team",
	})
	assert.ErrorIs(t, err, enablement.ErrQuotaExceeded)
	assert.Equal(t, 1, fakes.Subscriptions.Count())

	// Replacing a terminal subscription for the same key reuses its slot
	// instead of consuming a second one.
	_, err = svc.Expire(first.ID)
	require.NoError(t, err)
	_, err = svc.Purchase(PurchaseInput{
		PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1", PlanID: "team",
	})
	require.NoError(t, err)

	pt, err = fakes.PluginTenants.GetByID(first.PluginTenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, pt.CurrentActiveUsers)
	assert.Equal(t, 1, pt.CurrentInstalls)
}

func TestPurchaseEnforcesInstallationQuota(t *testing.T) {
	svc, fakes := newTestService(t)
	require.NoError(t, fakes.Plans.Create(&models.PluginPlan{
		ID: "solo", PluginID: "p1", IsFree: true, IsActive: true,
		HasLimitations: true,
		Limitations: models.NewJSONMap(map[string]any{
			models.LimitationMaxInstallations: 1,
		}),
	}))

	_, err := svc.Purchase(PurchaseInput{
		PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1", PlanID: "solo",
	})
	require.NoError(t, err)

	_, err = svc.Purchase(PurchaseInput{
		PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u2", PlanID: "solo",
	})
	assert.ErrorIs(t, err, enablement.ErrQuotaExceeded)
	assert.Equal(t, 1, fakes.Subscriptions.Count())
}

func TestPurchaseTakesAndReleasesKeyLock(t *testing.T) {
	svc, fakes := newTestService(t)

	in := PurchaseInput{PluginID: "p1", Scope: models.ScopeUser, TenantID: "t1", SubscriberID: "u1"}
	_, err := svc.Purchase(in)
	require.NoError(t, err)
	assert.Equal(t, 1, fakes.Subscriptions.LockCalls)
	assert.Equal(t, 1, fakes.Subscriptions.UnlockCalls)

	// The lock is released on the error path too.
	_, err = svc.Purchase(in)
	assert.ErrorIs(t, err, ErrSubscriptionExists)
	assert.Equal(t, 2, fakes.Subscriptions.LockCalls)
	assert.Equal(t, 2, fakes.Subscriptions.UnlockCalls)
}
