// Package api exposes the engine's read and command surface over HTTP for
// the dashboard.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/dispatch"
	"github.com/compliance/deadline-engine/internal/escalate"
	"github.com/compliance/deadline-engine/internal/notify"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/risk"
	"github.com/compliance/deadline-engine/internal/store"
)

// Server wires the HTTP surface over the engine components
type Server struct {
	echo *echo.Echo
	cfg  *config.ServerConfig
	log  *logger.Logger

	handler *Handler
}

func NewServer(
	cfg *config.Config,
	scorer *risk.Scorer,
	composer *notify.Composer,
	dispatcher *dispatch.Dispatcher,
	escalator *escalate.Manager,
	deadlines store.DeadlineStore,
	assessments store.AssessmentRepository,
	notifications store.NotificationRepository,
	clock clockwork.Clock,
	log *logger.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.Server.MaxRequestSize)))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Security.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
	if cfg.Security.RateLimitPerMinute > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(float64(cfg.Security.RateLimitPerMinute) / 60))))
	}

	h := &Handler{
		scorer:        scorer,
		composer:      composer,
		dispatcher:    dispatcher,
		escalator:     escalator,
		deadlines:     deadlines,
		assessments:   assessments,
		notifications: notifications,
		clock:         clock,
		log:           log.Named("api"),
	}

	s := &Server{echo: e, cfg: &cfg.Server, log: log.Named("http"), handler: h}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handler.Health)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/deadlines/:id/risk", s.handler.CurrentRisk)
	v1.GET("/deadlines/:id/risk/history", s.handler.RiskHistory)
	v1.POST("/deadlines/:id/assess", s.handler.RunAssessment)

	v1.GET("/notifications", s.handler.ListNotifications)
	v1.GET("/notifications/:id", s.handler.GetNotification)
	v1.POST("/notifications", s.handler.SendNotification)
	v1.POST("/notifications/:id/resend", s.handler.ResendNotification)
	v1.POST("/notifications/:id/acknowledge", s.handler.AcknowledgeNotification)
	v1.POST("/notifications/:id/escalate", s.handler.EscalateNotification)

	v1.GET("/summary", s.handler.Summary)
}

// Start blocks serving HTTP until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("http server starting", logger.StringField("addr", addr))

	s.echo.Server.ReadTimeout = s.cfg.ReadTimeout
	s.echo.Server.WriteTimeout = s.cfg.WriteTimeout
	s.echo.Server.IdleTimeout = s.cfg.IdleTimeout

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
