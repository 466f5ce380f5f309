package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ironlotus/gymsite/app/controllers"
	"github.com/ironlotus/gymsite/internal/pkg/constants"
)

type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// The webhook must see the raw body; no body-rewriting middleware here
	app.Post(constants.StripeWebhookRoute, h.deps.Billing.HandleStripeWebhook)
	app.Get(constants.HealthRoute, controllers.HandleHealth(h.deps.DB))

	auth := h.operatorAuth()
	app.Get(constants.MetricsRoute, auth, adaptor.HTTPHandler(promhttp.Handler()))
	app.Get(constants.MonitorRoute, auth, monitor.New(monitor.Config{Title: "gymsite"}))
}

// operatorAuth guards the metrics and monitor pages. Without configured
// credentials every request is refused.
func (h HttpRouter) operatorAuth() fiber.Handler {
	mc := h.deps.Config.Monitor
	if mc.User == "" || mc.Password == "" {
		return func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusForbidden)
		}
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{mc.User: mc.Password},
		Realm: "gymsite operations",
	})
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
