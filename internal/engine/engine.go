// Package engine drives generation requests end to end: it gates on the
// login session, records the conversation, uploads the selected files,
// submits the job and follows it to a terminal outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/paperdeck/internal/auth"
	"github.com/zulandar/paperdeck/internal/conversation"
	"github.com/zulandar/paperdeck/internal/files"
	"github.com/zulandar/paperdeck/internal/models"
	"github.com/zulandar/paperdeck/internal/pipeline"
	"github.com/zulandar/paperdeck/internal/workflow"
)

// DefaultUploadParallel bounds concurrent uploads per request.
const DefaultUploadParallel = 4

var (
	// ErrNotAuthenticated is returned by Send when a login is required and
	// the session is not authenticated.
	ErrNotAuthenticated = errors.New("engine: not authenticated")
	// ErrNoFiles is returned by Send when no selected file was accepted.
	ErrNoFiles = errors.New("engine: no usable files selected")
	// ErrWorkflowActive is returned by Send while the conversation already
	// has a generation in flight.
	ErrWorkflowActive = workflow.ErrWorkflowActive
)

// Pipeline is the generation backend.
type Pipeline interface {
	Upload(ctx context.Context, path string, ref files.FileRef) (files.Upload, error)
	Submit(ctx context.Context, req pipeline.Request) (pipeline.Job, error)
	Watch(ctx context.Context, handle string, onStage func(index int)) (pipeline.Outcome, error)
	workflow.Canceller
}

// SessionSource reports the current login state.
type SessionSource interface {
	Session() auth.Session
}

// Engine composes the conversation log, the upload registry, the workflow
// tracker and one cancellation coordinator per conversation.
type Engine struct {
	log           *conversation.Log
	registry      *files.Registry
	tracker       *workflow.Tracker
	pipeline      Pipeline
	session       SessionSource
	authRequired  bool
	defaults      conversation.GenerationConfig
	cancelTimeout time.Duration
	parallel      int

	mu           sync.Mutex
	sending      map[string]bool // conversations with a Send between admission and tracker.Start
	coordinators map[string]*workflow.Coordinator
}

// Opts holds parameters for creating an Engine.
type Opts struct {
	Log            *conversation.Log
	Registry       *files.Registry   // defaults to an empty registry
	Tracker        *workflow.Tracker // defaults to a new tracker
	Pipeline       Pipeline
	Session        SessionSource // required when AuthRequired is set
	AuthRequired   bool
	Defaults       conversation.GenerationConfig
	CancelTimeout  time.Duration // defaults to workflow.DefaultCancelTimeout
	UploadParallel int           // defaults to DefaultUploadParallel
}

// New creates an Engine.
func New(opts Opts) (*Engine, error) {
	if opts.Log == nil {
		return nil, fmt.Errorf("engine: log is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("engine: pipeline is required")
	}
	if opts.AuthRequired && opts.Session == nil {
		return nil, fmt.Errorf("engine: session source is required when auth is required")
	}
	defaults := opts.Defaults
	if defaults.OutputType == "" {
		defaults.OutputType = workflow.OutputSlides
	}
	if _, err := workflow.ParseOutputType(string(defaults.OutputType)); err != nil {
		return nil, fmt.Errorf("engine: defaults: %w", err)
	}
	reg := opts.Registry
	if reg == nil {
		reg = files.NewRegistry()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = workflow.NewTracker()
	}
	parallel := opts.UploadParallel
	if parallel <= 0 {
		parallel = DefaultUploadParallel
	}
	timeout := opts.CancelTimeout
	if timeout <= 0 {
		timeout = workflow.DefaultCancelTimeout
	}
	return &Engine{
		log:           opts.Log,
		registry:      reg,
		tracker:       tracker,
		pipeline:      opts.Pipeline,
		session:       opts.Session,
		authRequired:  opts.AuthRequired,
		defaults:      defaults,
		cancelTimeout: timeout,
		parallel:      parallel,
		sending:       make(map[string]bool),
		coordinators:  make(map[string]*workflow.Coordinator),
	}, nil
}

// Tracker returns the workflow tracker, for subscribers.
func (e *Engine) Tracker() *workflow.Tracker {
	return e.tracker
}

// Registry returns the upload registry.
func (e *Engine) Registry() *files.Registry {
	return e.registry
}

// Defaults returns the generation options applied when a request leaves
// them unset.
func (e *Engine) Defaults() conversation.GenerationConfig {
	return e.defaults
}

// NewConversation starts an empty conversation.
func (e *Engine) NewConversation(ctx context.Context, title string) (models.Conversation, error) {
	return e.log.NewConversation(ctx, title)
}

// Conversations lists conversations, most recently updated first.
func (e *Engine) Conversations(ctx context.Context) ([]models.Conversation, error) {
	return e.log.Conversations(ctx)
}

// SetViewing records which conversation is on screen.
func (e *Engine) SetViewing(convID string) {
	e.tracker.SetViewing(convID)
}

// View returns the workflow of convID if that conversation is the one
// being viewed.
func (e *Engine) View(convID string) (workflow.View, bool) {
	v, ok := e.tracker.Visible()
	if !ok || v.ConversationID != convID {
		return workflow.View{}, false
	}
	return v, true
}

// authenticated reports whether Send may proceed.
func (e *Engine) authenticated() bool {
	if !e.authRequired {
		return true
	}
	return e.session.Session().Authenticated
}
