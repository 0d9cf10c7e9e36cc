package plancatalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/HollandStone/PlugPort/app/models"
	"github.com/HollandStone/PlugPort/app/repository"
	"gorm.io/gorm"
)

// ErrPlanNotFound is returned when a plan id does not resolve to catalog data.
var ErrPlanNotFound = errors.New("plan not found")

// DefaultTrialDays applies when a plan has a trial but no explicit length.
const DefaultTrialDays = 7

// Kind is a closed classification of a plan: exactly one of Free, Trial or
// Paid. Using a sealed type instead of the raw boolean flags forces the
// lifecycle engine to handle every case.
type Kind interface {
	isKind()
}

// Free grants immediately and never expires.
type Free struct{}

// Trial grants immediately for a bounded number of days.
type Trial struct {
	Days int
}

// Paid waits for payment confirmation and expires per billing period.
type Paid struct {
	Period string
}

func (Free) isKind()  {}
func (Trial) isKind() {}
func (Paid) isKind()  {}

// Classify collapses a plan's flags into its Kind. Free wins over trial when
// both flags are set since a free plan has nothing to trial.
func Classify(plan *models.PluginPlan) Kind {
	if plan.IsFree {
		return Free{}
	}
	if plan.HasTrial {
		days := plan.TrialDays
		if days <= 0 {
			days = DefaultTrialDays
		}
		return Trial{Days: days}
	}
	return Paid{Period: plan.BillingPeriod}
}

// PeriodEnd computes the subscription end date for a billing period starting
// at the given instant. One-time purchases get an effectively unbounded end
// date; usage-based and unknown periods default to one month.
func PeriodEnd(period string, from time.Time) time.Time {
	switch period {
	case models.BillingPeriodDaily:
		return from.AddDate(0, 0, 1)
	case models.BillingPeriodWeekly:
		return from.AddDate(0, 0, 7)
	case models.BillingPeriodMonthly:
		return from.AddDate(0, 1, 0)
	case models.BillingPeriodQuarterly:
		return from.AddDate(0, 3, 0)
	case models.BillingPeriodYearly:
		return from.AddDate(1, 0, 0)
	case models.BillingPeriodOneTime:
		return from.AddDate(99, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// TrialEnd computes the end date for a trial starting at the given instant.
func TrialEnd(days int, from time.Time) time.Time {
	if days <= 0 {
		days = DefaultTrialDays
	}
	return from.AddDate(0, 0, days)
}

// Catalog is the read-only plan lookup used by the lifecycle engine.
type Catalog struct {
	plans repository.PlanRepository
}

// NewCatalog creates a catalog over the given plan repository.
func NewCatalog(plans repository.PlanRepository) *Catalog {
	return &Catalog{plans: plans}
}

// WithTx returns a catalog reading through the given transaction handle.
// tx may be nil outside a transaction.
func (c *Catalog) WithTx(tx *gorm.DB) *Catalog {
	return &Catalog{plans: c.plans.WithTx(tx)}
}

// GetPlan resolves a plan id, translating a missing row into ErrPlanNotFound.
func (c *Catalog) GetPlan(id string) (*models.PluginPlan, error) {
	plan, err := c.plans.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
		}
		return nil, err
	}
	return plan, nil
}

// ListPlans returns the active plans registered for a plugin.
func (c *Catalog) ListPlans(pluginID string) ([]models.PluginPlan, error) {
	return c.plans.ListByPluginID(pluginID)
}

// RequiresSubscription reports whether the plugin has paid plans, meaning
// access must be backed by a subscription rather than a bare enablement.
func (c *Catalog) RequiresSubscription(pluginID string) (bool, error) {
	return c.plans.HasPaidPlans(pluginID)
}
