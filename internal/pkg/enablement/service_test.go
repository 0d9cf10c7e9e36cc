package enablement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/HollandStone/PlugPort/app/models"
	"github.com/HollandStone/PlugPort/app/repository"
	"github.com/HollandStone/PlugPort/app/repository/repositorytest"
)

func newTestService(t *testing.T) (*Service, *repositorytest.Fakes) {
	t.Helper()
	fakes := repositorytest.New()
	svc := NewService(fakes.Plugins, fakes.PluginTenants, repository.PassthroughTxRunner())
	svc.SetInvalidator(func(pluginID, tenantID string) {})
	require.NoError(t, fakes.Plugins.Create(&models.Plugin{ID: "p1", Name: "Reports", Status: models.PLUGIN_STATUS_ACTIVE}))
	return svc, fakes
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	svc, fakes := newTestService(t)

	maxUsers := 5
	in := FindOrCreateInput{
		PluginID: "p1",
		TenantID: "t1",
		Scope:    models.ScopeUser,
		Hints:    QuotaHints{MaxActiveUsers: &maxUsers},
	}

	first, err := svc.FindOrCreate(nil, in)
	require.NoError(t, err)

	// An administrator overrides the quota between calls.
	pt, err := fakes.PluginTenants.GetByID(first)
	require.NoError(t, err)
	override := 50
	pt.MaxActiveUsers = &override
	require.NoError(t, fakes.PluginTenants.Save(pt))

	second, err := svc.FindOrCreate(nil, in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	pt, err = fakes.PluginTenants.GetByID(second)
	require.NoError(t, err)
	require.NotNil(t, pt.MaxActiveUsers)
	assert.Equal(t, 50, *pt.MaxActiveUsers, "second call must not reset configured quotas")
	assert.Equal(t, 1, fakes.PluginTenants.Count())
}

func TestFindOrCreateDefaults(t *testing.T) {
	svc, fakes := newTestService(t)

	id, err := svc.FindOrCreate(nil, FindOrCreateInput{PluginID: "p1", TenantID: "t1"})
	require.NoError(t, err)

	pt, err := fakes.PluginTenants.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, models.ScopeTenant, pt.Scope)
	assert.True(t, pt.Enabled)
	assert.Nil(t, pt.MaxActiveUsers)

	_, err = svc.FindOrCreate(nil, FindOrCreateInput{PluginID: "p1"})
	assert.ErrorIs(t, err, ErrMissingTenantID)
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService(t)

	pt, err := svc.Create(CreateInput{
		PluginID:       "p1",
		TenantID:       "t1",
		Scope:          models.ScopeOrganization,
		OrganizationID: "o1",
		Enabled:        true,
		AllowedUserIDs: []string{"u1"},
		ApprovedByID:   "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, pt.AllowedUserIDs())
	assert.True(t, pt.IsApproved())
	require.NotNil(t, pt.ApprovedAt)

	// Same key again is a conflict.
	_, err = svc.Create(CreateInput{PluginID: "p1", TenantID: "t1", OrganizationID: "o1"})
	assert.ErrorIs(t, err, ErrEnablementExists)

	// A different organization is a different key.
	_, err = svc.Create(CreateInput{PluginID: "p1", TenantID: "t1", OrganizationID: "o2"})
	require.NoError(t, err)
}

func TestCreateUnknownPlugin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(CreateInput{PluginID: "nope", TenantID: "t1"})
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

func TestHintsFromPlan(t *testing.T) {
	hints := HintsFromPlan(nil)
	assert.Nil(t, hints.MaxActiveUsers)
	assert.Nil(t, hints.MaxInstallations)

	plan := &models.PluginPlan{
		HasLimitations: true,
		Limitations: models.NewJSONMap(map[string]any{
			models.LimitationMaxActiveUsers:   10,
			models.LimitationMaxInstallations: 2,
		}),
	}
	hints = HintsFromPlan(plan)
	require.NotNil(t, hints.MaxActiveUsers)
	require.NotNil(t, hints.MaxInstallations)
	assert.Equal(t, 10, *hints.MaxActiveUsers)
	assert.Equal(t, 2, *hints.MaxInstallations)

	// Limitations are ignored when the flag is off.
	plan.HasLimitations = false
	hints = HintsFromPlan(plan)
	assert.Nil(t, hints.MaxActiveUsers)
}

func TestDeleteCascades(t *testing.T) {
	svc, fakes := newTestService(t)

	pt, err := svc.Create(CreateInput{PluginID: "p1", TenantID: "t1", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, fakes.Subscriptions.Create(&models.PluginSubscription{
		PluginID: "p1", PluginTenantID: pt.ID, TenantID: "t1",
		SubscriberID: "u1", Status: models.SubscriptionStatusActive,
	}))

	require.NoError(t, svc.Delete(pt.ID))
	assert.Equal(t, 0, fakes.PluginTenants.Count())
	assert.Equal(t, 0, fakes.Subscriptions.Count())

	err = svc.Delete(pt.ID)
	assert.ErrorIs(t, err, ErrEnablementNotFound)
}

func TestCreateMapsDuplicateKeyToConflict(t *testing.T) {
	svc, fakes := newTestService(t)

	// A concurrent create wins between the existence check and the insert;
	// the unique key rejects ours.
	fakes.PluginTenants.CreateErr = gorm.ErrDuplicatedKey

	_, err := svc.Create(CreateInput{PluginID: "p1", TenantID: "t1", Enabled: true})
	assert.ErrorIs(t, err, ErrEnablementExists)
}

func TestRegisterSubscriptionEnforcesQuotas(t *testing.T) {
	svc, _ := newTestService(t)

	maxUsers, maxInstalls := 1, 2
	pt, err := svc.Create(CreateInput{
		PluginID: "p1", TenantID: "t1", Enabled: true,
		MaxActiveUsers:   &maxUsers,
		MaxInstallations: &maxInstalls,
	})
	require.NoError(t, err)

	require.NoError(t, svc.RegisterSubscription(nil, pt.ID, "u1"))
	assert.Equal(t, 1, pt.CurrentActiveUsers)
	assert.Equal(t, 1, pt.CurrentInstalls)

	err = svc.RegisterSubscription(nil, pt.ID, "u2")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// A subscriber-less registration only consumes an installation slot.
	require.NoError(t, svc.RegisterSubscription(nil, pt.ID, ""))
	assert.Equal(t, 1, pt.CurrentActiveUsers)
	assert.Equal(t, 2, pt.CurrentInstalls)

	err = svc.RegisterSubscription(nil, pt.ID, "")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	require.NoError(t, svc.ReleaseSubscription(nil, pt.ID, "u1"))
	assert.Equal(t, 0, pt.CurrentActiveUsers)
	assert.Equal(t, 1, pt.CurrentInstalls)
	require.NoError(t, svc.RegisterSubscription(nil, pt.ID, "u3"))

	err = svc.RegisterSubscription(nil, "missing", "u4")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestReleaseSubscriptionFloorsAtZero(t *testing.T) {
	svc, _ := newTestService(t)

	pt, err := svc.Create(CreateInput{PluginID: "p1", TenantID: "t1", Enabled: true})
	require.NoError(t, err)

	require.NoError(t, svc.ReleaseSubscription(nil, pt.ID, "u1"))
	assert.Equal(t, 0, pt.CurrentActiveUsers)
	assert.Equal(t, 0, pt.CurrentInstalls)
}
