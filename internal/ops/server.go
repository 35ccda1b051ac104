package ops

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kestrel/internal/audit"
	"kestrel/internal/config"
	"kestrel/internal/logger"
	"kestrel/internal/rule"
	"kestrel/internal/subscription"
	"kestrel/pkg/health"
)

// Server exposes the read-only operational surface: health, metrics and
// inspection of rules, firings and the live subscription table. The engine
// has no authoring API; rules are edited elsewhere.
type Server struct {
	http   *http.Server
	logger logger.Logger
}

type Handler struct {
	rules   rule.Repository
	auditor *audit.Store
	subs    *subscription.Manager
	checks  *health.CheckerRegistry
	logger  logger.Logger
}

func NewHandler(rules rule.Repository, auditor *audit.Store, subs *subscription.Manager, checks *health.CheckerRegistry, log logger.Logger) *Handler {
	return &Handler{
		rules:   rules,
		auditor: auditor,
		subs:    subs,
		checks:  checks,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.getHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/rules", h.listRules)
	v1.GET("/rules/:id", h.getRule)
	v1.GET("/rules/:id/firings", h.listFirings)
	v1.GET("/subscriptions", h.listSubscriptions)
}

func (h *Handler) getHealth(c *gin.Context) {
	result := h.checks.Check(c.Request.Context())
	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, result)
}

func (h *Handler) listRules(c *gin.Context) {
	rules, err := h.rules.ListRules(c.Request.Context())
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to list rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *Handler) getRule(c *gin.Context) {
	r, err := h.rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) listFirings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.auditor.ListByRule(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to list firings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list firings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"firings": entries})
}

func (h *Handler) listSubscriptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"subscriptions": h.subs.Snapshot()})
}

func NewServer(cfg config.ServerConfig, handler *Handler, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler.RegisterRoutes(router)

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeoutSeconds,
			WriteTimeout: cfg.WriteTimeoutSeconds,
		},
		logger: log,
	}
}

func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
