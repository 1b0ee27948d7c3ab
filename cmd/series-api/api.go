// Package main provides the series API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"

	"github.com/engageline/series/pkg/adapters"
	"github.com/engageline/series/pkg/engine"
	"github.com/engageline/series/pkg/eventbus"
	"github.com/engageline/series/pkg/persistence"
	"github.com/engageline/series/pkg/protocol"
	"github.com/engageline/series/pkg/readiness"
	"github.com/engageline/series/pkg/rules"
	"github.com/engageline/series/pkg/services"
	"github.com/engageline/series/pkg/tagstore"
	"github.com/engageline/series/pkg/web"
)

type API struct {
	logger               *slog.Logger
	persistence          persistence.Persistence
	eventBus             eventbus.EventBus
	tags                 protocol.TagStore
	validate             *validator.Validate
	orchestrationEnabled bool
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	tags protocol.TagStore,
	orchestrationEnabled bool,
) *API {
	if tags == nil {
		tags = tagstore.NewMemoryTagStore()
	}

	return &API{
		logger:               logger,
		persistence:          store,
		eventBus:             eventBus,
		tags:                 tags,
		validate:             validator.New(validator.WithRequiredStructEnabled()),
		orchestrationEnabled: orchestrationEnabled,
	}
}

func (a *API) App() *fiber.App {
	clock := clockwork.NewRealClock()

	seriesService := services.NewSeriesService(
		a.logger,
		a.persistence,
		readiness.NewValidator(a.logger),
		protocol.NewPermissiveWorkspaceDirectory(),
		a.eventBus,
		clock,
		a.orchestrationEnabled,
	)
	graphService := services.NewGraphService(a.logger, a.persistence, clock)
	queryService := services.NewQueryService(a.logger, a.persistence)

	// Manual enrollments run inline; content blocks publish delivery
	// requests to the bus like the worker does.
	eng := engine.NewEngine(
		a.logger,
		a.persistence,
		rules.NewEvaluator(),
		adapters.NewBusContentAdapters(a.eventBus),
		a.tags,
		a.eventBus,
		clock,
		engine.Config{OrchestrationEnabled: a.orchestrationEnabled, WorkerID: "series-api"},
	)

	handlers := web.NewAPIHandlers(seriesService, graphService, queryService, eng, a.eventBus, clock, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Series API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
