package apiv1

import (
	"errors"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/HollandStone/PlugPort/app/repository"
	"github.com/HollandStone/PlugPort/internal/pkg/database"
	"github.com/HollandStone/PlugPort/internal/pkg/enablement"
	"github.com/HollandStone/PlugPort/internal/pkg/entitlement"
	"github.com/HollandStone/PlugPort/internal/pkg/middleware"
	"github.com/HollandStone/PlugPort/internal/pkg/plancatalog"
	"github.com/HollandStone/PlugPort/internal/pkg/revocation"
	"github.com/HollandStone/PlugPort/internal/pkg/subscription"
)

var validate = validator.New()

// APIServer implements the v1 API surface.
type APIServer struct {
	subscriptions *subscription.Service
	enablements   *enablement.Service
	revocations   *revocation.Handler
	checker       *entitlement.Checker
	catalog       *plancatalog.Catalog
}

// NewAPIServer wires the domain services against the global repository
// factory and the shared database handle.
func NewAPIServer() *APIServer {
	repos := repository.GetGlobalRepositories()
	tx := repository.GormTxRunner(database.GetDB())

	catalog := plancatalog.NewCatalog(repos.Plan)
	enablements := enablement.NewService(repos.Plugin, repos.PluginTenant, tx)

	return &APIServer{
		subscriptions: subscription.NewService(repos.Plugin, repos.Subscription, catalog, enablements, tx),
		enablements:   enablements,
		revocations:   revocation.NewHandler(repos.PluginTenant, repos.Subscription, tx),
		checker:       entitlement.NewChecker(repos.PluginTenant, repos.Subscription, repos.Plan, entitlement.NewRedisStore()),
		catalog:       catalog,
	}
}

// RegisterHandlers attaches all v1 routes. Write endpoints require the
// service API key; read endpoints are open to the internal network.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	auth := middleware.APIKeyAuthMiddleware()

	r.Get("/ping", s.GetPing)

	r.Post("/plugins/:pluginID/subscriptions", auth, s.PostPluginSubscription)
	r.Post("/plugin-tenants", auth, s.PostPluginTenant)
	r.Delete("/subscriptions/:id", auth, s.DeleteSubscription)
	r.Post("/subscriptions/:id/activate", auth, s.PostActivateSubscription)
	r.Post("/subscriptions/:id/expire", auth, s.PostExpireSubscription)
	r.Post("/subscriptions/:id/cancel", auth, s.PostCancelSubscription)

	r.Get("/plugins/:pluginID/access", s.GetPluginAccess)
	r.Get("/plugins/:pluginID/plans", s.GetPluginPlans)
	r.Get("/plugins/:pluginID/subscriptions", s.GetPluginSubscriptions)
	r.Get("/plugins/:pluginID/subscriptions/active", s.GetActivePluginSubscription)
	r.Get("/subscriptions/:id", s.GetSubscription)
	r.Get("/subscribers/:subscriberID/subscriptions", s.GetSubscriberSubscriptions)
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// PurchaseRequest is the body of POST /plugins/:pluginID/subscriptions.
type PurchaseRequest struct {
	Scope          string         `json:"scope" validate:"required,oneof=user organization tenant"`
	TenantID       string         `json:"tenant_id" validate:"required"`
	OrganizationID string         `json:"organization_id"`
	SubscriberID   string         `json:"subscriber_id"`
	PlanID         string         `json:"plan_id"`
	AutoRenew      bool           `json:"auto_renew"`
	PaymentMethod  string         `json:"payment_method"`
	PromoCode      string         `json:"promo_code"`
	Metadata       map[string]any `json:"metadata"`
}

// PostPluginSubscription purchases a subscription for the plugin.
func (s *APIServer) PostPluginSubscription(c *fiber.Ctx) error {
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	sub, err := s.subscriptions.Purchase(subscription.PurchaseInput{
		PluginID:       c.Params("pluginID"),
		Scope:          req.Scope,
		TenantID:       req.TenantID,
		OrganizationID: req.OrganizationID,
		SubscriberID:   req.SubscriberID,
		PlanID:         req.PlanID,
		AutoRenew:      req.AutoRenew,
		PaymentMethod:  req.PaymentMethod,
		PromoCode:      req.PromoCode,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// CreatePluginTenantRequest is the body of POST /plugin-tenants.
type CreatePluginTenantRequest struct {
	PluginID            string         `json:"plugin_id" validate:"required"`
	TenantID            string         `json:"tenant_id" validate:"required"`
	OrganizationID      string         `json:"organization_id"`
	Scope               string         `json:"scope" validate:"omitempty,oneof=user organization tenant"`
	Enabled             bool           `json:"enabled"`
	AutoInstall         bool           `json:"auto_install"`
	RequiresApproval    bool           `json:"requires_approval"`
	IsMandatory         bool           `json:"is_mandatory"`
	MaxInstallations    *int           `json:"max_installations"`
	MaxActiveUsers      *int           `json:"max_active_users"`
	TenantConfiguration map[string]any `json:"tenant_configuration"`
	Preferences         map[string]any `json:"preferences"`
	AllowedRoleIDs      []string       `json:"allowed_role_ids"`
	AllowedUserIDs      []string       `json:"allowed_user_ids"`
	DeniedUserIDs       []string       `json:"denied_user_ids"`
	ApprovedByID        string         `json:"approved_by_id"`
}

// PostPluginTenant creates an enablement record for a plugin+tenant key.
func (s *APIServer) PostPluginTenant(c *fiber.Ctx) error {
	var req CreatePluginTenantRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	pt, err := s.enablements.Create(enablement.CreateInput{
		PluginID:            req.PluginID,
		TenantID:            req.TenantID,
		OrganizationID:      req.OrganizationID,
		Scope:               req.Scope,
		Enabled:             req.Enabled,
		AutoInstall:         req.AutoInstall,
		RequiresApproval:    req.RequiresApproval,
		IsMandatory:         req.IsMandatory,
		MaxInstallations:    req.MaxInstallations,
		MaxActiveUsers:      req.MaxActiveUsers,
		TenantConfiguration: req.TenantConfiguration,
		Preferences:         req.Preferences,
		AllowedRoleIDs:      req.AllowedRoleIDs,
		AllowedUserIDs:      req.AllowedUserIDs,
		DeniedUserIDs:       req.DeniedUserIDs,
		ApprovedByID:        req.ApprovedByID,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(pt)
}

// RevokeRequest is the body of DELETE /subscriptions/:id.
type RevokeRequest struct {
	PluginTenantID string `json:"plugin_tenant_id" validate:"required"`
	SubscriberID   string `json:"subscriber_id"`
	ConfirmCascade bool   `json:"confirm_cascade"`
}

// DeleteSubscription revokes a subscription via the revocation handler.
func (s *APIServer) DeleteSubscription(c *fiber.Ctx) error {
	var req RevokeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := s.revocations.Revoke(revocation.Input{
		SubscriptionID: c.Params("id"),
		PluginTenantID: req.PluginTenantID,
		SubscriberID:   req.SubscriberID,
		ConfirmCascade: req.ConfirmCascade,
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// PostActivateSubscription marks a pending or trial subscription active.
func (s *APIServer) PostActivateSubscription(c *fiber.Ctx) error {
	sub, err := s.subscriptions.Activate(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

// PostExpireSubscription marks a trial or active subscription expired.
func (s *APIServer) PostExpireSubscription(c *fiber.Ctx) error {
	sub, err := s.subscriptions.Expire(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

// PostCancelSubscription cancels a subscription. Idempotent.
func (s *APIServer) PostCancelSubscription(c *fiber.Ctx) error {
	sub, err := s.subscriptions.Cancel(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

func queryFromCtx(c *fiber.Ctx) entitlement.Query {
	q := entitlement.Query{
		PluginID:       c.Params("pluginID"),
		TenantID:       c.Query("tenant_id"),
		OrganizationID: c.Query("organization_id"),
		SubscriberID:   c.Query("subscriber_id"),
	}
	if roles := c.Query("role_ids"); roles != "" {
		q.RoleIDs = strings.Split(roles, ",")
	}
	return q
}

// GetPluginAccess answers whether the given subscriber may use the plugin
// right now, with the governing subscription and denial reasons.
func (s *APIServer) GetPluginAccess(c *fiber.Ctx) error {
	access, err := s.checker.Check(queryFromCtx(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(access)
}

// GetPluginPlans lists the active plans for a plugin.
func (s *APIServer) GetPluginPlans(c *fiber.Ctx) error {
	plans, err := s.catalog.ListPlans(c.Params("pluginID"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"plans": plans})
}

// GetActivePluginSubscription returns the live subscription governing the
// given key, or null when none applies.
func (s *APIServer) GetActivePluginSubscription(c *fiber.Ctx) error {
	sub, err := s.checker.FindActiveSubscription(queryFromCtx(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscription": sub})
}

// GetSubscription returns one subscription by id.
func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	sub, err := s.subscriptions.GetByID(c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(sub)
}

// GetPluginSubscriptions lists all subscriptions for a plugin.
func (s *APIServer) GetPluginSubscriptions(c *fiber.Ctx) error {
	subs, err := s.subscriptions.ListByPluginID(c.Params("pluginID"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscriptions": subs})
}

// GetSubscriberSubscriptions lists all subscriptions held by a subscriber.
func (s *APIServer) GetSubscriberSubscriptions(c *fiber.Ctx) error {
	subs, err := s.subscriptions.ListBySubscriberID(c.Params("subscriberID"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscriptions": subs})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": msg})
}

// errorResponse maps domain sentinel errors onto HTTP statuses. Messages are
// surfaced verbatim; they are written to be shown to callers.
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, subscription.ErrSubscriptionExists),
		errors.Is(err, enablement.ErrEnablementExists),
		errors.Is(err, enablement.ErrQuotaExceeded),
		errors.Is(err, revocation.ErrCascadeConfirmationRequired):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})

	case errors.Is(err, subscription.ErrPluginNotFound),
		errors.Is(err, subscription.ErrSubscriptionNotFound),
		errors.Is(err, enablement.ErrPluginNotFound),
		errors.Is(err, enablement.ErrEnablementNotFound),
		errors.Is(err, plancatalog.ErrPlanNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})

	case errors.Is(err, subscription.ErrMissingTenantID),
		errors.Is(err, subscription.ErrMissingOrganization),
		errors.Is(err, subscription.ErrMissingSubscriber),
		errors.Is(err, subscription.ErrInvalidScope),
		errors.Is(err, subscription.ErrInvalidTransition),
		errors.Is(err, enablement.ErrMissingTenantID),
		errors.Is(err, entitlement.ErrInvalidQuery),
		errors.Is(err, revocation.ErrSubscriptionMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	log.Printf("api v1: unhandled error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Unexpected error"})
}
