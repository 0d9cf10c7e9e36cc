package subscription

// PurchaseInput is the normalized purchase command. Identity (tenant,
// organization, subscriber) is explicit; the surrounding auth layer resolves
// it before calling in.
type PurchaseInput struct {
	PluginID       string
	Scope          string
	TenantID       string
	OrganizationID string
	SubscriberID   string
	PlanID         string
	AutoRenew      bool
	PaymentMethod  string
	PromoCode      string
	Metadata       map[string]any
}
