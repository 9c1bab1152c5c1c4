package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/cortex/internal/goals"
	"github.com/fentz26/cortex/internal/logging"
	"github.com/fentz26/cortex/internal/models"
	"github.com/fentz26/cortex/internal/think"
	"github.com/gin-gonic/gin"
)

// Version is reported by /health.
var Version = "dev"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server provides the HTTP API for cortex.
type Server struct {
	service *Service
	engine  *gin.Engine
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new HTTP server. metrics may be nil.
func NewServer(service *Service, metrics http.Handler, cfg ServerConfig, logger *slog.Logger) *Server {
	s := &Server{
		service: service,
		engine:  gin.New(),
		logger:  logging.Component(logger, "http"),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes(metrics)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes(metrics http.Handler) {
	r := s.engine
	r.GET("/health", s.handleHealth)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	r.POST("/tasks", s.createTask)
	r.GET("/tasks", s.listTasks)
	r.GET("/tasks/:id", s.getTask)
	r.POST("/scheduler/poll", s.pollTasks)
	r.GET("/scheduler/stats", s.schedulerStats)
	r.GET("/handlers", s.listHandlers)

	r.POST("/goals", s.createGoal)
	r.GET("/goals", s.listGoals)
	r.GET("/goals/ready", s.readyGoals)
	r.POST("/goals/run", s.runGoals)
	r.GET("/goals/:id", s.getGoal)
	r.POST("/goals/:id/status", s.updateGoalStatus)

	r.POST("/think", s.think)
	r.GET("/sessions", s.listSessions)
	r.GET("/sessions/:id", s.getSession)
	r.DELETE("/sessions/:id", s.deleteSession)
	r.GET("/sessions/:id/steps", s.sessionSteps)
	r.GET("/sessions/:id/log", s.sessionLog)

	r.POST("/memory", s.addMemory)
	r.GET("/memory/search", s.searchMemory)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("control plane listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{OK: true, DB: "ok", Version: Version, Time: time.Now().UTC().Format(time.RFC3339)}
	if err := s.service.Health(c.Request.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- Task Handlers ---

type createTaskRequest struct {
	OwnerID  string `json:"owner_id"`
	Handler  string `json:"handler"`
	Data     any    `json:"data"`
	Interval string `json:"interval"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if !s.bind(c, &req) {
		return
	}
	var interval time.Duration
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval: " + err.Error()})
			return
		}
		interval = d
	}
	task, err := s.service.ScheduleTask(c.Request.Context(), req.OwnerID, req.Handler, req.Data, interval)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.service.ListTasks(c.Request.Context(), c.Query("status"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []models.ScheduledTask{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.service.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) pollTasks(c *gin.Context) {
	stats, err := s.service.PollTasks(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) schedulerStats(c *gin.Context) {
	stats, err := s.service.SchedulerStats()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) listHandlers(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Handlers())
}

// --- Goal Handlers ---

type createGoalRequest struct {
	Horizon         models.Horizon `json:"horizon"`
	Description     string         `json:"description"`
	Priority        int            `json:"priority"`
	Dependencies    []string       `json:"dependencies"`
	ParentGoal      string         `json:"parent_goal"`
	SuccessCriteria []string       `json:"success_criteria"`
}

func (s *Server) createGoal(c *gin.Context) {
	var req createGoalRequest
	if !s.bind(c, &req) {
		return
	}
	g, err := s.service.AddGoal(c.Request.Context(), goals.Spec{
		Horizon:         req.Horizon,
		Description:     req.Description,
		Priority:        req.Priority,
		Dependencies:    req.Dependencies,
		ParentGoal:      req.ParentGoal,
		SuccessCriteria: req.SuccessCriteria,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (s *Server) listGoals(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.ListGoals())
}

func (s *Server) readyGoals(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.ReadyGoals())
}

type goalView struct {
	models.Goal
	View models.GoalStatus `json:"view"`
}

func (s *Server) getGoal(c *gin.Context) {
	g, view, err := s.service.GetGoal(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, goalView{Goal: g, View: view})
}

type updateStatusRequest struct {
	Status models.GoalStatus `json:"status"`
}

func (s *Server) updateGoalStatus(c *gin.Context) {
	var req updateStatusRequest
	if !s.bind(c, &req) {
		return
	}
	g, err := s.service.UpdateGoalStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) runGoals(c *gin.Context) {
	outcomes, err := s.service.RunGoals(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "outcomes": outcomes})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// --- Think Handlers ---

type thinkResponse struct {
	Session think.SessionInfo `json:"session"`
	Steps   []models.Step     `json:"steps"`
	Error   string            `json:"error,omitempty"`
}

func (s *Server) think(c *gin.Context) {
	var req ThinkRequest
	if !s.bind(c, &req) {
		return
	}
	session, err := s.service.Think(c.Request.Context(), req)
	if session == nil {
		s.fail(c, err)
		return
	}
	resp := thinkResponse{Session: session.Info(), Steps: session.Ledger.Steps()}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Sessions())
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.service.Session(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.service.RemoveSession(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) sessionSteps(c *gin.Context) {
	session, err := s.service.Session(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session.Ledger.Steps())
}

func (s *Server) sessionLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	entries, err := s.service.SessionLog(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []models.ContextLogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// --- Memory Handlers ---

type addMemoryRequest struct {
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta"`
}

func (s *Server) addMemory(c *gin.Context) {
	var req addMemoryRequest
	if !s.bind(c, &req) {
		return
	}
	id, err := s.service.AddMemory(c.Request.Context(), req.Content, req.Meta)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) searchMemory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	matches, err := s.service.SearchMemory(c.Request.Context(), c.Query("q"), limit, c.QueryMap("meta"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if matches == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, matches)
}
