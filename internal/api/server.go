package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"opal/internal/logging"
	"opal/internal/stage"
	"opal/internal/workflow"
)

// defaultListLimit bounds job listings when the caller omits ?limit.
const defaultListLimit = 50

// WorkflowSource reports runtime state for the probes and /v1/status.
type WorkflowSource interface {
	Running() bool
	Health(ctx context.Context) []stage.Health
	Status(ctx context.Context) workflow.StatusSummary
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Bind     string
	Token    string
	Logger   *slog.Logger
	Jobs     JobReader
	Workflow WorkflowSource
}

// Server exposes health probes and read-only job endpoints over HTTP.
type Server struct {
	bind     string
	token    string
	logger   *slog.Logger
	jobs     *JobService
	workflow WorkflowSource
	engine   *gin.Engine

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewServer builds the gin engine. Start binds the listener.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		bind:     strings.TrimSpace(opts.Bind),
		token:    strings.TrimSpace(opts.Token),
		logger:   logging.NewComponentLogger(logger, "api-server"),
		jobs:     NewJobService(opts.Jobs),
		workflow: opts.Workflow,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	engine.GET("/healthz", s.handleLive)
	engine.GET("/livez", s.handleLive)
	engine.GET("/readyz", s.handleReady)

	v1 := engine.Group("/v1", s.authMiddleware())
	v1.GET("/status", s.handleStatus)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/:id", s.handleJob)
	v1.GET("/jobs/:id/items/:item", s.handleItem)

	s.engine = engine
	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr reports the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, ProbeResponse{Status: "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.workflow == nil {
		c.JSON(http.StatusServiceUnavailable, ProbeResponse{Status: "unavailable"})
		return
	}
	health := s.workflow.Health(c.Request.Context())
	resp := ProbeResponse{Status: "ready", Checks: StageHealthSlice(health)}
	if !s.workflow.Running() || !stage.AllReady(health) {
		resp.Status = "not ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.workflow == nil {
		c.JSON(http.StatusOK, WorkflowStatus{})
		return
	}
	c.JSON(http.StatusOK, FromStatusSummary(s.workflow.Status(c.Request.Context())))
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := defaultListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	list, err := s.jobs.List(c.Request.Context(), strings.TrimSpace(c.Query("tenant")), limit)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []Job{}
	}
	c.JSON(http.StatusOK, JobListResponse{Jobs: list})
}

func (s *Server) handleJob(c *gin.Context) {
	resp, err := s.jobs.Describe(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		s.writeError(c, http.StatusNotFound, "job not found")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleItem(c *gin.Context) {
	item, err := s.jobs.Item(c.Request.Context(), c.Param("item"))
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil || item.JobID != c.Param("id") {
		s.writeError(c, http.StatusNotFound, "item not found")
		return
	}
	c.JSON(http.StatusOK, ItemResponse{Item: *item})
}

func (s *Server) writeError(c *gin.Context, status int, message string) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed",
			logging.String("path", c.FullPath()),
			logging.String("error", message),
		)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

// authMiddleware validates bearer tokens. An empty token disables auth.
func (s *Server) authMiddleware() gin.HandlerFunc {
	if s.token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(s.token)
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		supplied, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(supplied), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
}
