package entitlement

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/HollandStone/PlugPort/app/models"
	"github.com/HollandStone/PlugPort/app/repository"
	"gorm.io/gorm"
)

// ErrInvalidQuery is returned when an access query misses required ids.
var ErrInvalidQuery = errors.New("plugin id and tenant id are required")

// AccessCacheTTL bounds how stale a cached access answer may get. Writes
// invalidate explicitly, the TTL is the backstop.
const AccessCacheTTL = 45 * time.Second

// Query identifies whose access to which plugin is being checked. Identity is
// explicit; there is no ambient current-user context in this service.
type Query struct {
	PluginID       string
	TenantID       string
	OrganizationID string
	SubscriberID   string
	RoleIDs        []string
}

// Access is the answer to a query: the yes/no gate, the governing
// subscription when one applies, and why access was refused.
type Access struct {
	HasAccess            bool                       `json:"has_access"`
	Subscription         *models.PluginSubscription `json:"subscription,omitempty"`
	RequiresSubscription bool                       `json:"requires_subscription"`
	DenialReasons        []string                   `json:"denial_reasons,omitempty"`
}

// Checker is the read path consulted before every plugin use. It never
// mutates state.
type Checker struct {
	tenants repository.PluginTenantRepository
	subs    repository.SubscriptionRepository
	plans   repository.PlanRepository
	store   Store
	now     func() time.Time
}

// NewChecker creates a checker. store may be nil to disable caching.
func NewChecker(tenants repository.PluginTenantRepository, subs repository.SubscriptionRepository, plans repository.PlanRepository, store Store) *Checker {
	return &Checker{
		tenants: tenants,
		subs:    subs,
		plans:   plans,
		store:   store,
		now:     time.Now,
	}
}

func accessKeyPrefix(pluginID, tenantID string) string {
	return fmt.Sprintf("plugac:%s:%s:", pluginID, tenantID)
}

func accessKey(q Query) string {
	return accessKeyPrefix(q.PluginID, q.TenantID) +
		q.OrganizationID + ":" + q.SubscriberID + ":" + strings.Join(q.RoleIDs, ",")
}

// HasAccess answers the boolean gate, served from cache when possible.
func (c *Checker) HasAccess(q Query) (bool, error) {
	if q.PluginID == "" || q.TenantID == "" {
		return false, ErrInvalidQuery
	}

	key := accessKey(q)
	if c.store != nil {
		if cached, err := c.store.Get(key); err == nil {
			return cached == "1", nil
		}
	}

	access, err := c.Check(q)
	if err != nil {
		return false, err
	}

	if c.store != nil {
		value := "0"
		if access.HasAccess {
			value = "1"
		}
		if err := c.store.Set(key, value, AccessCacheTTL); err != nil {
			log.Printf("entitlement cache write failed for %s: %v", key, err)
		}
	}
	return access.HasAccess, nil
}

// Check resolves the full access answer against persisted state.
func (c *Checker) Check(q Query) (*Access, error) {
	if q.PluginID == "" || q.TenantID == "" {
		return nil, ErrInvalidQuery
	}

	access := &Access{}

	requiresSub, err := c.plans.HasPaidPlans(q.PluginID)
	if err != nil {
		return nil, err
	}
	access.RequiresSubscription = requiresSub

	specific, tenantWide, err := c.loadEnablements(q)
	if err != nil {
		return nil, err
	}
	governing := firstNonNil(specific, tenantWide)

	// Denied users never pass, regardless of subscription state.
	if q.SubscriberID != "" {
		for _, pt := range []*models.PluginTenant{specific, tenantWide} {
			if pt != nil && pt.IsUserDenied(q.SubscriberID) {
				access.DenialReasons = append(access.DenialReasons, "user is explicitly denied access to this plugin")
				return access, nil
			}
		}
	}

	sub, err := c.findGoverningSubscription(q)
	if err != nil {
		return nil, err
	}

	if sub != nil {
		if governing != nil {
			if !governing.IsAvailable() {
				access.DenialReasons = append(access.DenialReasons, "plugin is not enabled for this tenant")
				return access, nil
			}
			if q.SubscriberID != "" && !governing.HasUserAccess(q.SubscriberID, q.RoleIDs) {
				access.DenialReasons = append(access.DenialReasons, "user is not in the allowed users or roles for this plugin")
				return access, nil
			}
		}
		access.HasAccess = true
		access.Subscription = sub
		return access, nil
	}

	// No subscription: only an enabled tenant-wide enablement grants access.
	if governing != nil && governing.Scope == models.ScopeTenant && governing.IsAvailable() {
		// Subscribers with a live subscription are already counted against
		// the quota at purchase time; uncounted users riding the tenant-wide
		// grant only pass while the quota has headroom.
		if !governing.CanAddMoreUsers() {
			access.DenialReasons = append(access.DenialReasons, "active user quota exceeded for this plugin")
			return access, nil
		}
		if q.SubscriberID == "" || governing.HasUserAccess(q.SubscriberID, q.RoleIDs) {
			access.HasAccess = true
			return access, nil
		}
		access.DenialReasons = append(access.DenialReasons, "user is not in the allowed users or roles for this plugin")
		return access, nil
	}

	access.DenialReasons = append(access.DenialReasons, "no active subscription or tenant-wide enablement found")
	return access, nil
}

// FindActiveSubscription returns the governing live subscription for the
// query, or nil when none applies.
func (c *Checker) FindActiveSubscription(q Query) (*models.PluginSubscription, error) {
	if q.PluginID == "" || q.TenantID == "" {
		return nil, ErrInvalidQuery
	}
	return c.findGoverningSubscription(q)
}

func (c *Checker) loadEnablements(q Query) (specific, tenantWide *models.PluginTenant, err error) {
	specific, err = c.getEnablement(q.PluginID, q.TenantID, q.OrganizationID)
	if err != nil {
		return nil, nil, err
	}
	if q.OrganizationID != "" {
		tenantWide, err = c.getEnablement(q.PluginID, q.TenantID, "")
		if err != nil {
			return nil, nil, err
		}
	}
	return specific, tenantWide, nil
}

func (c *Checker) getEnablement(pluginID, tenantID, organizationID string) (*models.PluginTenant, error) {
	pt, err := c.tenants.GetByKey(pluginID, tenantID, organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return pt, nil
}

// findGoverningSubscription applies the precedence rule: the most specific
// scope wins. A user-scoped subscription for the subscriber beats an
// organization-scoped one, which beats a tenant-scoped one.
func (c *Checker) findGoverningSubscription(q Query) (*models.PluginSubscription, error) {
	subs, err := c.subs.ListLiveByPluginAndTenant(q.PluginID, q.TenantID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var userMatch, orgMatch, tenantMatch *models.PluginSubscription
	for i := range subs {
		sub := &subs[i]
		if !sub.GrantsAccessAt(now) {
			continue
		}
		switch sub.Scope {
		case models.ScopeUser:
			if q.SubscriberID != "" && sub.SubscriberID == q.SubscriberID &&
				(sub.OrganizationID == "" || sub.OrganizationID == q.OrganizationID) {
				userMatch = newerSubscription(userMatch, sub)
			}
		case models.ScopeOrganization:
			if q.OrganizationID != "" && sub.OrganizationID == q.OrganizationID {
				orgMatch = newerSubscription(orgMatch, sub)
			}
		case models.ScopeTenant:
			tenantMatch = newerSubscription(tenantMatch, sub)
		}
	}

	switch {
	case userMatch != nil:
		return userMatch, nil
	case orgMatch != nil:
		return orgMatch, nil
	case tenantMatch != nil:
		return tenantMatch, nil
	default:
		return nil, nil
	}
}

func newerSubscription(a, b *models.PluginSubscription) *models.PluginSubscription {
	if a == nil {
		return b
	}
	if b.StartDate.After(a.StartDate) {
		return b
	}
	return a
}

func firstNonNil(candidates ...*models.PluginTenant) *models.PluginTenant {
	for _, pt := range candidates {
		if pt != nil {
			return pt
		}
	}
	return nil
}
