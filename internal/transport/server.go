package transport

import (
	"database/sql"

	"github.com/castlefun/swipewatch/internal/handler"
	"github.com/castlefun/swipewatch/internal/observability"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewOpsServer builds the operational HTTP surface: liveness, readiness and
// prometheus metrics. It serves operators only; the poll loop never depends
// on it and its failures are non-fatal.
func NewOpsServer(sqlDB *sql.DB, rdb *redis.Client, metrics *observability.Metrics, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
	})

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	return app
}
