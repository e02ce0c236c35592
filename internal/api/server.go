package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentguard/internal/alert"
	"github.com/agentguard/internal/auth"
	"github.com/agentguard/internal/database"
	"github.com/agentguard/internal/models"
	"github.com/agentguard/internal/monitor"
	"github.com/agentguard/internal/report"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultHistoryLimit = 100

type Server struct {
	monitor     *monitor.Monitor
	ruleManager *alert.RuleManager
	reports     *report.ReportGenerator
	db          *gorm.DB
	auth        *auth.Authenticator
	logger      *zap.Logger
	router      *gin.Engine
}

func NewServer(mon *monitor.Monitor, ruleManager *alert.RuleManager, db *gorm.DB, authenticator *auth.Authenticator, logger *zap.Logger) (*Server, error) {
	reports, err := report.NewReportGenerator(db)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	server := &Server{
		monitor:     mon,
		ruleManager: ruleManager,
		reports:     reports,
		db:          db,
		auth:        authenticator,
		logger:      logger,
		router:      router,
	}

	server.setupRoutes()
	return server, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public routes
	s.router.POST("/api/v1/auth/login", s.login)

	// Protected routes (require authentication)
	api := s.router.Group("/api/v1")
	api.Use(s.auth.Middleware())

	subjects := api.Group("/subjects")
	{
		subjects.GET("", auth.RequirePermission(models.PermViewSubjects), s.listSubjects)
		subjects.GET("/:id", auth.RequirePermission(models.PermViewSubjects), s.getSubject)
		subjects.POST("/:id/poll", auth.RequirePermission(models.PermPollSubjects), s.pollSubject)
	}

	alerts := api.Group("/alerts", auth.RequirePermission(models.PermViewAlerts))
	{
		alerts.GET("", s.listAlertHistory)
		alerts.GET("/active", s.listActiveAlerts)
	}

	rules := api.Group("/rules", auth.RequirePermission(models.PermViewRules))
	{
		rules.GET("", s.listRules)
		rules.GET("/:name", s.getRule)
		rules.POST("/validate", s.validateRule)
		rules.POST("/test", s.testRule)
	}

	api.GET("/reports/summary", auth.RequirePermission(models.PermViewReports), s.reportSummary)
	api.GET("/monitor/stats", auth.RequirePermission(models.PermViewReports), s.monitorStats)
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) login(c *gin.Context) {
	var loginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.auth.Enabled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authentication is disabled"})
		return
	}

	token, err := s.auth.Login(loginReq.Username, loginReq.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) listSubjects(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Statuses())
}

func (s *Server) getSubject(c *gin.Context) {
	status, err := s.monitor.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) pollSubject(c *gin.Context) {
	result, err := s.monitor.PollNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"subject":  result.Subject,
		"metrics":  result.Metrics,
		"events":   result.Events,
		"resolved": result.Resolved,
		"wait":     result.Wait.String(),
	}
	if result.Err != nil {
		resp["error"] = result.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listActiveAlerts(c *gin.Context) {
	alerts := s.monitor.ActiveAlerts()
	if subject := c.Query("subject"); subject != "" {
		filtered := alerts[:0]
		for _, a := range alerts {
			if a.Subject == subject {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) listAlertHistory(c *gin.Context) {
	filter := database.EventFilter{
		Subject: c.Query("subject"),
		Rule:    c.Query("rule"),
		Level:   models.AlertLevel(strings.ToUpper(c.Query("level"))),
		Kind:    models.EventKind(c.Query("kind")),
		Limit:   defaultHistoryLimit,
	}

	if filter.Level != "" && !filter.Level.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid level: %s", filter.Level)})
		return
	}
	if since := c.Query("since"); since != "" {
		t, err := parseTime(since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since: " + err.Error()})
			return
		}
		filter.Since = t
	}
	if limit := c.Query("limit"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = l
	}

	events, err := database.ListAlertEvents(c.Request.Context(), s.db, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alert history"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// Rule management handlers
func (s *Server) listRules(c *gin.Context) {
	enabled := c.Query("enabled")
	var enabledPtr *bool
	if enabled != "" {
		enabledBool := enabled == "true"
		enabledPtr = &enabledBool
	}

	c.JSON(http.StatusOK, s.ruleManager.ListRules(enabledPtr))
}

func (s *Server) getRule(c *gin.Context) {
	rule, ok := s.ruleManager.GetRule(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) validateRule(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := alert.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "rule is valid"})
}

type testRuleRequest struct {
	Rule    models.AlertRule `json:"rule"`
	Subject string           `json:"subject"`
	// Metrics to test against. When empty the subject's latest metrics are used.
	Metrics []models.Metric `json:"metrics"`
}

func (s *Server) testRule(c *gin.Context) {
	var request testRuleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metrics := request.Metrics
	if len(metrics) == 0 {
		if request.Subject == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metrics or subject is required"})
			return
		}
		status, err := s.monitor.Status(request.Subject)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		metrics = status.Metrics
	}

	alerts, err := s.ruleManager.TestRule(request.Rule, request.Subject, metrics)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rule":      request.Rule,
		"subject":   request.Subject,
		"metrics":   metrics,
		"alerts":    alerts,
		"triggered": len(alerts) > 0,
	})
}

func (s *Server) reportSummary(c *gin.Context) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if raw := c.Query("start"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start: " + err.Error()})
			return
		}
		start = t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end: " + err.Error()})
			return
		}
		end = t
	}

	data, err := s.reports.GenerateReport(c.Request.Context(), start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if c.Query("format") == "html" {
		body, err := s.reports.RenderHTML(data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", body)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) monitorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.GetMetrics())
}

// parseTime accepts RFC3339 timestamps or a duration meaning "that long ago".
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 time or duration, got %q", raw)
	}
	return time.Now().Add(-d), nil
}
