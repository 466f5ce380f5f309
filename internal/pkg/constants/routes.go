package constants

// Route constants shared by the router and the OpenAPI document
const (
	StripeWebhookRoute = "/webhooks/stripe"
	HealthRoute        = "/healthz"
	MetricsRoute       = "/metrics"
	MonitorRoute       = "/monitor"
	APIRoute           = "/api"
	MembersRoute       = "/members"
	DocsBasePath       = "/docs/api/"
)
