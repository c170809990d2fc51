package authserver

import (
	"errors"
	"html"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	callbackOK     = "<html><body><h3>Login complete.</h3><p>You can close this window.</p></body></html>"
	callbackFailed = "<html><body><h3>Login failed.</h3><p>%s</p></body></html>"
)

// Register mounts the OAuth endpoints on r.
func Register(r gin.IRouter, m *Manager) {
	g := r.Group("/auth/oauth")
	g.GET("/start", handleStart(m))
	g.GET("/callback", handleCallback(m))
	g.GET("/status", handleStatus(m))
	g.POST("/logout", handleLogout(m))
}

func handleStart(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_url": m.StartFlow()})
	}
}

func handleCallback(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if oauthErr := c.Query("error"); oauthErr != "" {
			desc := c.Query("error_description")
			log.Printf("authserver: provider returned error %s: %s", oauthErr, desc)
			callbackPage(c, http.StatusBadRequest, oauthErr)
			return
		}
		code, state := c.Query("code"), c.Query("state")
		if code == "" {
			callbackPage(c, http.StatusBadRequest, "missing authorization code")
			return
		}
		if !m.ValidateState(state) {
			callbackPage(c, http.StatusBadRequest, "invalid state")
			return
		}
		if err := m.Exchange(c.Request.Context(), code, state); err != nil {
			log.Printf("authserver: %v", err)
			status := http.StatusBadGateway
			if errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrNoFlow) {
				status = http.StatusBadRequest
			}
			callbackPage(c, status, "token exchange failed")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(callbackOK))
	}
}

func callbackPage(c *gin.Context, status int, reason string) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(status, callbackFailed, html.EscapeString(reason))
}

func handleStatus(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Status())
	}
}

func handleLogout(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.Logout()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
