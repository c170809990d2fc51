// Package dashboard serves the local web API: conversations and their
// rounds, the visible workflow, cancellation, login and a server-sent
// event stream of workflow updates.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/paperdeck/internal/auth"
	"github.com/zulandar/paperdeck/internal/authserver"
	"github.com/zulandar/paperdeck/internal/engine"
)

// DefaultPort is used when StartOpts.Port is unset.
const DefaultPort = 8090

// AuthController is the login session as driven from the dashboard.
type AuthController interface {
	Session() auth.Session
	Login(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Engine *engine.Engine
	Auth   AuthController      // optional; auth routes answer 503 without it
	OAuth  *authserver.Manager // optional; mounts /auth/oauth
	Port   int
	Out    io.Writer
}

// server carries the handler dependencies.
type server struct {
	engine    *engine.Engine
	auth      AuthController
	baseCtx   context.Context // outlives requests; background sends run under it
	heartbeat time.Duration
	poll      time.Duration
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Engine == nil {
		return fmt.Errorf("dashboard: engine is required")
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(ctx, opts)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine. ctx bounds work that outlives a request.
func newRouter(ctx context.Context, opts StartOpts) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &server{
		engine:    opts.Engine,
		auth:      opts.Auth,
		baseCtx:   ctx,
		heartbeat: 15 * time.Second,
		poll:      3 * time.Second,
	}
	registerRoutes(router, s)
	if opts.OAuth != nil {
		authserver.Register(router, opts.OAuth)
	}
	return router
}
