package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/pipeline"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/session"
	"github.com/GriffinCanCode/playground/internal/shared/utils"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions  *session.Manager
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	assetsDir string
}

// NewHandlers creates a new handler set. Assets are not served when
// assetsDir is empty.
func NewHandlers(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger, assetsDir string) *Handlers {
	logger = logging.OrNop(logger)
	return &Handlers{
		sessions:  sessions,
		metrics:   metrics,
		logger:    logger,
		assetsDir: assetsDir,
	}
}

// Register mounts every route on router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	router.POST("/sessions", h.CreateSession)
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/:id", h.GetSession)
	router.PUT("/sessions/:id/files", h.UpdateFiles)
	router.POST("/sessions/:id/run", h.RunSession)
	router.POST("/sessions/:id/quick-info", h.QuickInfo)
	router.GET("/sessions/:id/display/*filename", h.Display)
	router.DELETE("/sessions/:id", h.DeleteSession)

	router.GET("/assets/*path", h.Asset)
}

type updateFilesRequest struct {
	Files map[string]string `json:"files" binding:"required"`
}

type quickInfoRequest struct {
	Filename string `json:"filename" binding:"required"`
	Position *int   `json:"position" binding:"required"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "playground",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Stats(),
		"metrics":  h.metrics.Snapshot(),
	})
}

// CreateSession starts a playground from a session spec
func (h *Handlers) CreateSession(c *gin.Context) {
	var spec session.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validateSpec(spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.sessions.Create(spec)
	switch {
	case errors.Is(err, session.ErrTooManySessions):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.Is(err, pipeline.ErrNoEntry), errors.Is(err, sandbox.ErrInvalidVendorName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, fetch.ErrFetchFailed), errors.Is(err, fetch.ErrTooLarge):
		h.logger.Warn("Failed to fetch vendor module", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": s.Info(),
		"stream":  "/sessions/" + s.ID + "/stream",
	})
}

// ListSessions lists all live playgrounds
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.sessions.List(),
		"stats":    h.sessions.Stats(),
	})
}

// GetSession returns a playground with its current state
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": s.Info(),
		"state":   s.State(),
	})
}

// UpdateFiles applies edits to one or more files
func (h *Handlers) UpdateFiles(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var req updateFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateFiles(req.Files, true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.EditAll(req.Files)

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"files":   len(req.Files),
	})
}

// RunSession re-runs the entry with the compiled code it has
func (h *Handlers) RunSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	ran := s.Run(c.Request.Context())
	state := s.State()

	c.JSON(http.StatusOK, gin.H{
		"ran":   ran,
		"error": state.Error(),
		"runs":  state.Runs,
	})
}

// QuickInfo answers a hover query from the information channel
func (h *Handlers) QuickInfo(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var req quickInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, found := s.QuickInfo(c.Request.Context(), req.Filename, *req.Position)
	c.JSON(http.StatusOK, gin.H{
		"available": found,
		"info":      info,
	})
}

// Display returns the display channel code of a file
func (h *Handlers) Display(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	filename := strings.TrimPrefix(c.Param("filename"), "/")
	code, found := s.Display(filename)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "display code not available", "filename": filename})
		return
	}

	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(code))
}

// DeleteSession closes a playground
func (h *Handlers) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := utils.ValidateID(sessionID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.sessions.Close(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrNotFound.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
	})
}

// lookup resolves the :id parameter, writing the error response itself
func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	sessionID := c.Param("id")
	if err := utils.ValidateID(sessionID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	s, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrNotFound.Error()})
		return nil, false
	}
	return s, true
}

func validateSpec(spec session.Spec) error {
	if err := utils.ValidateTitle(spec.Title); err != nil {
		return err
	}
	if err := utils.ValidateFilename(spec.Entry); err != nil {
		return err
	}
	return utils.ValidateFiles(spec.Files, true)
}
