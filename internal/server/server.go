// Package server exposes the production system over HTTP: classification,
// feedback, and the operational read endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/tally/internal/model"
	"github.com/crimson-sun/tally/internal/monitor"
	"github.com/crimson-sun/tally/internal/production"
)

// Service is the orchestrator surface the HTTP layer needs.
type Service interface {
	ClassifyTransaction(ctx context.Context, req model.ClassificationRequest) (model.InferenceResult, error)
	ClassifyBatch(ctx context.Context, reqs []model.ClassificationRequest, batchSize int) ([]model.InferenceResult, model.BatchStats, error)
	SubmitFeedback(ctx context.Context, fb model.Feedback) error
	Status() production.Status
	GenerateReport() production.Report
}

// Dashboards serves the windowed metrics view.
type Dashboards interface {
	Dashboard(hours float64) monitor.DashboardData
}

// Server is the HTTP front end.
type Server struct {
	svc        Service
	dashboards Dashboards
	engine     *gin.Engine
	http       *http.Server
}

// New builds the router. addr is the listen address for Run.
func New(addr string, svc Service, dashboards Dashboards) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		svc:        svc,
		dashboards: dashboards,
		engine:     router,
	}
	s.routes()
	s.http = &http.Server{Addr: addr, Handler: router}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.POST("/classify", s.handleClassify)
	v1.POST("/classify/batch", s.handleClassifyBatch)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/status", s.handleStatus)
	v1.GET("/dashboard", s.handleDashboard)
	v1.GET("/report", s.handleReport)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.svc.Status()
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": status.Ready})
}

func (s *Server) handleClassify(c *gin.Context) {
	var req model.ClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Description == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}

	result, err := s.svc.ClassifyTransaction(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type batchRequest struct {
	Transactions []model.ClassificationRequest `json:"transactions"`
	BatchSize    int                           `json:"batch_size,omitempty"`
}

type batchResponse struct {
	Results []model.InferenceResult `json:"results"`
	Stats   model.BatchStats        `json:"stats"`
}

func (s *Server) handleClassifyBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transactions must not be empty"})
		return
	}

	results, stats, err := s.svc.ClassifyBatch(c.Request.Context(), req.Transactions, req.BatchSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, batchResponse{Results: results, Stats: stats})
}

func (s *Server) handleFeedback(c *gin.Context) {
	var fb model.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.svc.SubmitFeedback(c.Request.Context(), fb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) handleDashboard(c *gin.Context) {
	hours := 24.0
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive number"})
			return
		}
		hours = parsed
	}
	c.JSON(http.StatusOK, s.dashboards.Dashboard(hours))
}

func (s *Server) handleReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GenerateReport())
}
