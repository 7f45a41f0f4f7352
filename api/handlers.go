package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mediabot/pkg/flow"
	"mediabot/pkg/history"
	"mediabot/pkg/jobs"
	"mediabot/pkg/models"
	"mediabot/pkg/queue"
	"mediabot/pkg/settings"
	"mediabot/pkg/tasks"
)

// Server holds the handler dependencies. Everything is injected; the api
// package owns no state of its own.
type Server struct {
	runner   *jobs.Runner
	registry *tasks.Registry
	queue    *queue.Queue
	settings *settings.Store
	history  *history.Store
	flow     *flow.Store
	log      *zap.Logger
}

func NewServer(
	runner *jobs.Runner,
	registry *tasks.Registry,
	q *queue.Queue,
	st *settings.Store,
	hist *history.Store,
	f *flow.Store,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		runner:   runner,
		registry: registry,
		queue:    q,
		settings: st,
		history:  hist,
		flow:     f,
		log:      log,
	}
}

// Health handles GET /health
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitDownload handles POST /api/downloads
func (s *Server) SubmitDownload(c *gin.Context) {
	var req models.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Link == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "link is required"})
		return
	}

	result, err := s.runner.Submit(req)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidLink) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("submit failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit download"})
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// ListTasks handles GET /api/tasks?owner_id=N
func (s *Server) ListTasks(c *gin.Context) {
	ownerID := ownerParam(c)
	c.JSON(http.StatusOK, gin.H{"tasks": s.registry.List(ownerID)})
}

// GetTask handles GET /api/tasks/:taskID
func (s *Server) GetTask(c *gin.Context) {
	taskID := c.Param("taskID")
	task, ok := s.registry.Get(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	for _, snap := range s.registry.List(task.OwnerID) {
		if snap.TaskID == taskID {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// CancelTask handles DELETE /api/tasks/:taskID
func (s *Server) CancelTask(c *gin.Context) {
	taskID := c.Param("taskID")
	if !s.registry.Cancel(taskID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "status": string(tasks.StatusCancelling)})
}

// CancelAllTasks handles DELETE /api/tasks?owner_id=N
func (s *Server) CancelAllTasks(c *gin.Context) {
	ownerID := ownerParam(c)
	count := s.registry.CancelAll(ownerID)
	c.JSON(http.StatusOK, gin.H{"cancelled": count})
}

// ListQueue handles GET /api/queue?owner_id=N
func (s *Server) ListQueue(c *gin.Context) {
	ownerID := ownerParam(c)
	c.JSON(http.StatusOK, gin.H{
		"size":  s.queue.Size(ownerID),
		"items": s.queue.Pending(ownerID),
	})
}

// CancelQueued handles DELETE /api/queue/:queueID?owner_id=N
func (s *Server) CancelQueued(c *gin.Context) {
	queueID := c.Param("queueID")
	if !s.queue.CancelPending(queueID, ownerParam(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue_id": queueID, "status": "cancelled"})
}

// GetSettings handles GET /api/settings
func (s *Server) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.View())
}

// UpdateSettings handles PUT /api/settings
func (s *Server) UpdateSettings(c *gin.Context) {
	var update models.SettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.settings.Apply(update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// enabling queue mode must also bring the worker up; StartWorker is
	// idempotent so repeated toggles are harmless
	if s.settings.QueueMode() {
		s.queue.StartWorker(context.Background())
	}
	c.JSON(http.StatusOK, s.settings.View())
}

// DeliverCode handles POST /api/flow/code. The bot's command layer posts
// here when a user replies with a verification code a running download is
// waiting on.
func (s *Server) DeliverCode(c *gin.Context) {
	var req struct {
		UserID int64  `json:"user_id" binding:"required"`
		Code   string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and code are required"})
		return
	}
	if !s.flow.DeliverCode(req.UserID, req.Code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no task is waiting for a code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delivered"})
}

// GetHistory handles GET /api/history?user_id=N&limit=N
func (s *Server) GetHistory(c *gin.Context) {
	userID, _ := strconv.ParseInt(c.Query("user_id"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := s.history.Recent(userID, limit)
	if err != nil {
		s.log.Error("history query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func ownerParam(c *gin.Context) int64 {
	ownerID, _ := strconv.ParseInt(c.Query("owner_id"), 10, 64)
	return ownerID
}
