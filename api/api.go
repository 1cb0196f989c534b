// Package api serves the public endpoints that turn requests into events
// and the /v1 administration routes over runs, the dead letter queue,
// crons, jobs and events.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/orquesta/orquesta/engine"
	"github.com/orquesta/orquesta/stream"
	"github.com/orquesta/orquesta/telegram"
)

// Poller lists recent bot updates. *telegram.Client satisfies it.
type Poller interface {
	FetchRecent(ctx context.Context) ([]telegram.Update, error)
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for access logs and handler errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithServiceName sets the service name reported on request spans.
func WithServiceName(name string) Option {
	return func(a *API) { a.serviceName = name }
}

// WithClock replaces time.Now in health responses.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// WithBroker enables the server-sent event routes. The broker must also
// be registered on the engine as an extension.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithHeartbeat sets the interval of keep-alive frames on event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(a *API) { a.heartbeat = d }
}

// API wires the HTTP handlers to an engine.
type API struct {
	eng         *engine.Engine
	poller      Poller
	broker      *stream.Broker
	heartbeat   time.Duration
	logger      *slog.Logger
	serviceName string
	now         func() time.Time
}

// New creates an API over eng. poller backs /api/obtener-chat-id.
func New(eng *engine.Engine, poller Poller, opts ...Option) *API {
	a := &API{
		eng:         eng,
		poller:      poller,
		logger:      slog.Default(),
		serviceName: "orquesta",
		now:         time.Now,
		heartbeat:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with every route and the shared
// middleware chain installed.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(
		cors.New(corsConfig()),
		otelgin.Middleware(a.serviceName),
		accessLog(a.logger),
		recovery(a.logger),
	)
	a.RegisterRoutes(router)
	return router
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	return cfg
}

// RegisterRoutes registers all routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	a.registerPublicRoutes(router)

	v1 := router.Group("/v1")
	a.registerWorkflowRoutes(v1)
	a.registerEventRoutes(v1)
	a.registerDLQRoutes(v1)
	a.registerCronRoutes(v1)
	a.registerJobRoutes(v1)
	a.registerStatsRoutes(v1)
	if a.broker != nil {
		a.registerStreamRoutes(v1)
	}
}

func (a *API) registerPublicRoutes(router gin.IRouter) {
	router.GET("/", a.info)
	router.GET("/health", a.health)

	g := router.Group("/api")
	g.GET("/obtener-chat-id", a.obtenerChatID)
	g.POST("/notificar", a.notificar)
	g.POST("/procesar-pedido", a.procesarPedido)
	g.POST("/usuario-nuevo", a.usuarioNuevo)
}

func (a *API) registerWorkflowRoutes(g gin.IRouter) {
	g.GET("/workflows", a.listWorkflows)
	g.GET("/runs", a.listRuns)
	g.GET("/runs/:runId", a.getRun)
	g.POST("/runs/:runId/cancel", a.cancelRun)
	g.POST("/runs/:runId/replay", a.replayRun)
}

func (a *API) registerEventRoutes(g gin.IRouter) {
	g.GET("/events", a.listEvents)
	g.GET("/events/:eventId", a.getEvent)
	g.POST("/events", a.sendEvent)
}

func (a *API) registerDLQRoutes(g gin.IRouter) {
	g.GET("/dlq", a.listDLQ)
	g.GET("/dlq/count", a.dlqCount)
	g.POST("/dlq/purge", a.purgeDLQ)
	g.GET("/dlq/:entryId", a.getDLQ)
	g.POST("/dlq/:entryId/replay", a.replayDLQ)
}

func (a *API) registerCronRoutes(g gin.IRouter) {
	g.GET("/crons", a.listCrons)
	g.GET("/crons/:cronId", a.getCron)
	g.POST("/crons/:cronId/enable", a.enableCron)
	g.POST("/crons/:cronId/disable", a.disableCron)
	g.DELETE("/crons/:cronId", a.deleteCron)
}

func (a *API) registerJobRoutes(g gin.IRouter) {
	g.GET("/jobs", a.listJobs)
	g.GET("/jobs/counts", a.jobCounts)
	g.GET("/jobs/:jobId", a.getJob)
}

func (a *API) registerStatsRoutes(g gin.IRouter) {
	g.GET("/stats", a.stats)
	g.GET("/workers", a.listWorkers)
}

func (a *API) registerStreamRoutes(g gin.IRouter) {
	g.GET("/stream", a.streamTopics)
	g.GET("/runs/:runId/stream", a.streamRun)
}
