package web

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dripline/dripline/pkg/engine"
	"github.com/dripline/dripline/pkg/persistence"
)

// API bundles the fiber application serving the operations endpoints.
type API struct {
	logger      *slog.Logger
	engine      *engine.Engine
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	engine *engine.Engine,
	persistence persistence.Persistence,
) *API {
	return &API{
		logger:      logger,
		engine:      engine,
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := NewHandlers(a.engine, a.persistence, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Dripline Engine")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/unsubscribe", handlers.Unsubscribe)

	w := app.Group("/workflows")
	w.Get("/:id", handlers.GetWorkflow)
	w.Get("/:id/enrollments", handlers.GetWorkflowEnrollments)
	w.Post("/:id/resume", handlers.ResumeWorkflow)

	e := app.Group("/enrollments")
	e.Post("/", handlers.CreateEnrollment)
	e.Get("/:id", handlers.GetEnrollment)

	ops := app.Group("/ops")
	ops.Post("/process-queue", handlers.RunQueue)
	ops.Post("/process-date-triggers", handlers.RunDateTriggers)
	ops.Post("/process-inactivity-triggers", handlers.RunInactivityTriggers)
	ops.Post("/cleanup", handlers.RunRetention)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
