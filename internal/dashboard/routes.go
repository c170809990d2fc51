package dashboard

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/paperdeck/internal/auth"
	"github.com/zulandar/paperdeck/internal/conversation"
	"github.com/zulandar/paperdeck/internal/engine"
	"github.com/zulandar/paperdeck/internal/workflow"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	api := router.Group("/api")

	api.GET("/conversations", s.handleConversations)
	api.POST("/conversations", s.handleNewConversation)
	api.GET("/conversations/:id/rounds", s.handleRounds)
	api.POST("/conversations/:id/messages", s.handleSend)
	api.POST("/conversations/:id/cancel", s.handleRequestCancel)
	api.POST("/conversations/:id/cancel/confirm", s.handleConfirmCancel)
	api.POST("/conversations/:id/cancel/dismiss", s.handleDismiss)

	api.PUT("/viewing/:id", s.handleSetViewing)
	api.GET("/workflow", s.handleWorkflow)

	api.GET("/auth/status", s.handleAuthStatus)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/logout", s.handleLogout)

	api.GET("/events", s.handleSSE)
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *server) handleConversations(c *gin.Context) {
	rows, err := ConversationSummary(c.Request.Context(), s.engine)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": rows})
}

func (s *server) handleNewConversation(c *gin.Context) {
	var body struct {
		Title string `json:"title"`
	}
	// An empty body means an untitled conversation.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}
	conv, err := s.engine.NewConversation(c.Request.Context(), body.Title)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, conversationRow(s.engine, conv))
}

func (s *server) handleRounds(c *gin.Context) {
	id := c.Param("id")
	rounds, err := s.engine.Rounds(c.Request.Context(), id)
	if errors.Is(err, conversation.ErrUnknownConversation) {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	resp := gin.H{
		"rounds":       rounds,
		"cancel_state": s.engine.CancelState(id).String(),
	}
	if v, ok := s.engine.View(id); ok {
		resp["workflow"] = v
	}
	c.JSON(http.StatusOK, resp)
}

type sendBody struct {
	Text   string                         `json:"text"`
	Paths  []string                       `json:"paths"`
	Config *conversation.GenerationConfig `json:"config"`
}

// handleSend accepts a generation request and runs it in the background.
// Progress is reported over /api/events; the round is visible through
// /rounds as soon as the user event is recorded.
func (s *server) handleSend(c *gin.Context) {
	id := c.Param("id")
	var body sendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if len(body.Paths) == 0 {
		errorJSON(c, http.StatusBadRequest, engine.ErrNoFiles)
		return
	}
	if s.auth != nil && !s.auth.Session().Authenticated {
		errorJSON(c, http.StatusUnauthorized, engine.ErrNotAuthenticated)
		return
	}
	if _, ok := s.engine.Tracker().Active(id); ok {
		errorJSON(c, http.StatusConflict, engine.ErrWorkflowActive)
		return
	}

	req := engine.SendRequest{ConversationID: id, Text: body.Text, Paths: body.Paths, Config: body.Config}
	go func() {
		out, err := s.engine.Send(s.baseCtx, req)
		if err != nil {
			log.Printf("dashboard: send [conv=%s]: %v", id, err)
			return
		}
		log.Printf("dashboard: send [conv=%s]: %s", id, out.Status)
	}()
	c.JSON(http.StatusAccepted, gin.H{"conversation_id": id})
}

func (s *server) handleRequestCancel(c *gin.Context) {
	id := c.Param("id")
	changed := s.engine.RequestCancel(id)
	c.JSON(http.StatusOK, gin.H{"changed": changed, "cancel_state": s.engine.CancelState(id).String()})
}

func (s *server) handleDismiss(c *gin.Context) {
	id := c.Param("id")
	changed := s.engine.Dismiss(id)
	c.JSON(http.StatusOK, gin.H{"changed": changed, "cancel_state": s.engine.CancelState(id).String()})
}

func (s *server) handleConfirmCancel(c *gin.Context) {
	id := c.Param("id")
	err := s.engine.ConfirmCancel(c.Request.Context(), id)
	switch {
	case errors.Is(err, workflow.ErrCancelTimeout):
		c.JSON(http.StatusOK, gin.H{"acknowledged": false, "cancel_state": s.engine.CancelState(id).String()})
	case err != nil:
		errorJSON(c, http.StatusBadGateway, err)
	default:
		c.JSON(http.StatusOK, gin.H{"acknowledged": true, "cancel_state": s.engine.CancelState(id).String()})
	}
}

func (s *server) handleSetViewing(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	s.engine.SetViewing(id)
	c.JSON(http.StatusOK, gin.H{"viewing": id})
}

func (s *server) handleWorkflow(c *gin.Context) {
	v, ok := s.engine.Tracker().Visible()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"workflow": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflow": v})
}

var errNoAuth = errors.New("dashboard: login is not configured")

func (s *server) handleAuthStatus(c *gin.Context) {
	if s.auth == nil {
		errorJSON(c, http.StatusServiceUnavailable, errNoAuth)
		return
	}
	c.JSON(http.StatusOK, s.auth.Session())
}

func (s *server) handleLogin(c *gin.Context) {
	if s.auth == nil {
		errorJSON(c, http.StatusServiceUnavailable, errNoAuth)
		return
	}
	url, err := s.auth.Login(c.Request.Context())
	switch {
	case errors.Is(err, auth.ErrAlreadyAuthenticated):
		errorJSON(c, http.StatusConflict, err)
	case err != nil:
		errorJSON(c, http.StatusBadGateway, err)
	default:
		c.JSON(http.StatusOK, gin.H{"auth_url": url})
	}
}

func (s *server) handleLogout(c *gin.Context) {
	if s.auth == nil {
		errorJSON(c, http.StatusServiceUnavailable, errNoAuth)
		return
	}
	if err := s.auth.Logout(c.Request.Context()); err != nil {
		// The local session is already cleared.
		log.Printf("dashboard: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
