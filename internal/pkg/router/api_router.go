package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ironlotus/gymsite/internal/pkg/constants"
)

const (
	apiRateLimit         = 30
	apiRateLimitWindow   = time.Minute
	limiterRedisDatabase = 2
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(h.limiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
	})
	v1.Post(constants.MembersRoute, h.deps.Members.HandleSignup)
	v1.Get(constants.MembersRoute+"/:id", h.deps.Members.HandleGetMember)
}

// limiterConfig shares counters across instances through Redis when a cache
// is configured.
func (h ApiRouter) limiterConfig() limiter.Config {
	cfg := limiter.Config{
		Max:        apiRateLimit,
		Expiration: apiRateLimitWindow,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}
	if h.deps.Redis != nil && h.deps.Config.Cache.Enabled {
		cc := h.deps.Config.Cache
		cfg.Storage = redisstorage.New(redisstorage.Config{
			Host:     cc.Host,
			Port:     cc.Port,
			Password: cc.Password,
			Database: limiterRedisDatabase,
			Reset:    false,
		})
	}
	return cfg
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
