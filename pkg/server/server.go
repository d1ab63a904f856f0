package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/prism/pkg/model"
	"github.com/m-mizutani/prism/pkg/usecase/pipeline"
	"github.com/m-mizutani/prism/pkg/utils/logging"
)

// Server exposes pipeline operations over HTTP
type Server struct {
	uc      *pipeline.UseCase
	version string
	now     func() time.Time
}

type Option func(*Server)

// WithVersion sets the version reported by the health endpoint
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

func New(uc *pipeline.UseCase, opts ...Option) *Server {
	s := &Server{
		uc:      uc,
		version: "dev",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupRouter builds the gin engine with every route registered
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.Health)
	api.POST("/generate", s.Generate)

	sessions := api.Group("/sessions")
	sessions.POST("", s.CreateSession)
	sessions.POST("/:id/run", s.RunPipeline)
	sessions.GET("/:id/status", s.Status)
	sessions.GET("/:id/perspectives", s.Perspectives)
	sessions.GET("/:id/output/:category", s.Output)
	sessions.DELETE("/:id/job", s.CancelJob)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logging.From(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"server_time":  s.now().UTC().Format(time.RFC3339),
		"version":      s.version,
		"active_count": s.uc.Registry().ActiveCount(),
	})
}

func (s *Server) CreateSession(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	ctx := c.Request.Context()
	req, err := pipeline.ExtractRequest(ctx, payload)
	if err != nil {
		respondError(c, err)
		return
	}

	session, err := s.uc.CreateSession(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

type runRequest struct {
	SendDownstream bool `json:"send_downstream"`
}

func (s *Server) RunPipeline(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	if v := c.Query("send_downstream"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "send_downstream must be a boolean"})
			return
		}
		req.SendDownstream = b
	}

	resp, _, err := s.uc.RunPipeline(c.Request.Context(), sessionID(c), req.SendDownstream)
	if err != nil {
		respondError(c, err)
		return
	}

	switch resp.Status {
	case model.RunStatusBusy:
		c.JSON(http.StatusConflict, resp)
	case model.RunStatusCapacityExceeded:
		c.JSON(http.StatusTooManyRequests, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) Status(c *gin.Context) {
	report, err := s.uc.Status(c.Request.Context(), sessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) Perspectives(c *gin.Context) {
	snapshot, err := s.uc.Perspectives(c.Request.Context(), sessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) Output(c *gin.Context) {
	perspectives, err := s.uc.Output(c.Request.Context(), sessionID(c), c.Param("category"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perspectives)
}

func (s *Server) CancelJob(c *gin.Context) {
	id := sessionID(c)
	if err := s.uc.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "canceling", "session_id": id})
}

func (s *Server) Generate(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	ctx := c.Request.Context()
	req, err := pipeline.ExtractRequest(ctx, payload)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := s.uc.Generate(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func sessionID(c *gin.Context) model.SessionID {
	return model.SessionID(c.Param("id"))
}

// respondError maps error sentinels to status codes. Unexpected errors are logged.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrSessionNotFound),
		errors.Is(err, model.ErrResultNotFound),
		errors.Is(err, model.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, model.ErrCapacityExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, model.ErrParse):
		status = http.StatusBadGateway
	case errors.Is(err, model.ErrClientUnavailable), errors.Is(err, model.ErrRegistryClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logging.From(c.Request.Context()).Error("request failed", "error", err, "path", c.FullPath())
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
