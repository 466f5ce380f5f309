package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ironlotus/gymsite/app/controllers"
	"github.com/ironlotus/gymsite/internal/pkg/config"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps holds everything the routes need. Redis may be nil, in which case the
// API rate limiter keeps its counters in memory.
type Deps struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	Billing *controllers.BillingController
	Members *controllers.MemberController
	Log     *zap.Logger
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
