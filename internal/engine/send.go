package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/paperdeck/internal/conversation"
	"github.com/zulandar/paperdeck/internal/files"
	"github.com/zulandar/paperdeck/internal/pipeline"
	"github.com/zulandar/paperdeck/internal/workflow"
	"golang.org/x/sync/errgroup"
)

// interruptCancelTimeout bounds the best-effort remote cancel sent when
// the caller's context ends mid-generation.
const interruptCancelTimeout = 5 * time.Second

// Assistant replies recorded for terminal outcomes.
const (
	ReplySlidesReady = "Your slides are ready."
	ReplyPosterReady = "Your poster is ready."
	ReplyCancelled   = "Generation cancelled."
)

// SendRequest is one generation request from the user.
type SendRequest struct {
	ConversationID string
	Text           string
	Paths          []string
	Config         *conversation.GenerationConfig // overrides the engine defaults field by field
}

// Outcome is the recorded result of a Send.
type Outcome struct {
	User      conversation.Message
	Assistant conversation.Message
	Status    pipeline.EventType // success, error or cancelled
	Rejected  []files.Rejection
}

// reply is the assistant event that closes a round.
type reply struct {
	status    pipeline.EventType
	content   string
	isError   bool
	artifacts conversation.ArtifactURLs
}

func failure(format string, args ...any) reply {
	return reply{status: pipeline.EventError, content: fmt.Sprintf(format, args...), isError: true}
}

// Send runs one generation round. Rejected files are dropped and reported
// in the outcome. Failures after the user event is recorded (uploads,
// submission, the pipeline itself) close the round with an error reply and
// are not returned as errors.
func (e *Engine) Send(ctx context.Context, req SendRequest) (Outcome, error) {
	conv := req.ConversationID
	if conv == "" {
		return Outcome{}, fmt.Errorf("engine: send: conversation id is required")
	}
	if !e.authenticated() {
		return Outcome{}, ErrNotAuthenticated
	}
	cfg, err := e.resolveConfig(req.Config)
	if err != nil {
		return Outcome{}, fmt.Errorf("engine: send: %w", err)
	}

	refs, rejected := files.Select(req.Paths)
	for _, r := range rejected {
		log.Printf("engine: rejected %s: %s [conv=%s]", r.Path, r.Reason, conv)
	}
	out := Outcome{Rejected: rejected}
	if len(refs) == 0 {
		return out, ErrNoFiles
	}

	if err := e.admit(conv); err != nil {
		return out, err
	}
	defer e.release(conv)

	user, err := e.log.Append(ctx, conv, conversation.Message{
		Role:    conversation.RoleUser,
		Content: req.Text,
		Files:   refs,
		Config:  &cfg,
	})
	if err != nil {
		return out, fmt.Errorf("engine: send: %w", err)
	}
	out.User = user

	urls, err := e.uploadAll(ctx, refs)
	if err != nil {
		return e.finish(ctx, conv, out, failure("Upload failed: %v", err))
	}

	job, err := e.pipeline.Submit(ctx, pipeline.Request{
		Files:      urls,
		OutputType: cfg.OutputType,
		Style:      cfg.Style,
		Content:    cfg.Content,
		Length:     cfg.Length,
		Density:    cfg.Density,
	})
	if err != nil {
		return e.finish(ctx, conv, out, failure("Could not start generation: %v", err))
	}

	// Subscribe before the workflow is visible so a cancellation that
	// clears it immediately is not missed.
	updates, unsubscribe := e.tracker.Subscribe(16)
	defer unsubscribe()

	if err := e.tracker.Start(workflow.Workflow{
		ConversationID: conv,
		Handle:         job.Handle,
		OutputType:     cfg.OutputType,
		Style:          cfg.Style,
		Content:        cfg.Content,
		Stages:         job.Stages,
		Active:         workflow.NoActive,
	}); err != nil {
		return e.finish(ctx, conv, out, failure("Could not track generation: %v", err))
	}

	r := e.follow(ctx, conv, job.Handle, cfg.OutputType, updates)
	e.tracker.ClearHandle(job.Handle)
	return e.finish(ctx, conv, out, r)
}

// follow watches the job until it ends. A local clear of the workflow (a
// confirmed or timed-out cancellation) stops the watch.
func (e *Engine) follow(ctx context.Context, conv, handle string, outputType workflow.OutputType, updates <-chan workflow.Update) reply {
	wctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		for u := range updates {
			if u.ConversationID == conv && u.View == nil {
				stop()
				return
			}
		}
	}()

	onStage := func(index int) {
		if err := e.tracker.Advance(handle, index); err != nil {
			log.Printf("engine: advance %s to %d: %v", handle, index, err)
		}
	}
	res, err := e.pipeline.Watch(wctx, handle, onStage)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			e.interrupt(ctx, handle)
			return failure("Generation interrupted.")
		case !e.tracking(conv, handle):
			return reply{status: pipeline.EventCancelled, content: ReplyCancelled}
		default:
			return failure("Lost track of the generation: %v", err)
		}
	}

	switch res.Status {
	case pipeline.EventSuccess:
		r := reply{
			status: pipeline.EventSuccess,
			artifacts: conversation.ArtifactURLs{
				PPT:    res.PPTURL,
				PPTX:   res.PPTXURL,
				Poster: res.PosterURL,
			},
		}
		r.content = ReplySlidesReady
		if outputType == workflow.OutputPoster {
			r.content = ReplyPosterReady
		}
		if r.artifacts.Empty() {
			return failure("Generation finished without producing any files.")
		}
		return r
	case pipeline.EventCancelled:
		return reply{status: pipeline.EventCancelled, content: ReplyCancelled}
	default:
		msg := res.Message
		if msg == "" {
			msg = "unknown error"
		}
		return failure("Generation failed: %s", msg)
	}
}

// tracking reports whether handle is still the active workflow of conv.
func (e *Engine) tracking(conv, handle string) bool {
	wf, ok := e.tracker.Active(conv)
	return ok && wf.Handle == handle
}

// interrupt asks the pipeline to stop a job whose caller went away.
func (e *Engine) interrupt(ctx context.Context, handle string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interruptCancelTimeout)
	defer cancel()
	if _, err := e.pipeline.Cancel(cctx, handle); err != nil {
		log.Printf("engine: cancel interrupted %s: %v", handle, err)
	}
}

// finish records the assistant reply that closes the round. The reply is
// written even if ctx has ended; the context error is then returned.
func (e *Engine) finish(ctx context.Context, conv string, out Outcome, r reply) (Outcome, error) {
	msg, err := e.log.Append(context.WithoutCancel(ctx), conv, conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   r.content,
		IsError:   r.isError,
		Artifacts: r.artifacts,
	})
	if err != nil {
		return out, fmt.Errorf("engine: send: record reply: %w", err)
	}
	out.Assistant = msg
	out.Status = r.status
	log.Printf("engine: round %d closed: %s [conv=%s]", out.User.Sequence, r.status, conv)
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// uploadAll uploads refs in parallel and records each completed upload in
// the registry. It returns the URLs in selection order.
func (e *Engine) uploadAll(ctx context.Context, refs []files.FileRef) ([]string, error) {
	urls := make([]string, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i, ref := range refs {
		g.Go(func() error {
			path, err := files.LocalPath(ref.LocalHandle)
			if err != nil {
				return err
			}
			up, err := e.pipeline.Upload(gctx, path, ref)
			if err != nil {
				return err
			}
			e.registry.Add(up)
			urls[i] = up.URL
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// resolveConfig overlays a request's options on the engine defaults. Slides
// carry a length, posters a density.
func (e *Engine) resolveConfig(override *conversation.GenerationConfig) (conversation.GenerationConfig, error) {
	cfg := e.defaults
	if override != nil {
		if override.OutputType != "" {
			cfg.OutputType = override.OutputType
		}
		if override.Style != "" {
			cfg.Style = override.Style
		}
		if override.Content != "" {
			cfg.Content = override.Content
		}
		if override.Length != "" {
			cfg.Length = override.Length
		}
		if override.Density != "" {
			cfg.Density = override.Density
		}
	}
	if _, err := workflow.ParseOutputType(string(cfg.OutputType)); err != nil {
		return conversation.GenerationConfig{}, err
	}
	if cfg.OutputType == workflow.OutputPoster {
		cfg.Length = ""
	} else {
		cfg.Density = ""
	}
	return cfg, nil
}

// admit reserves conv for one Send.
func (e *Engine) admit(conv string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sending[conv] {
		return ErrWorkflowActive
	}
	if _, ok := e.tracker.Active(conv); ok {
		return ErrWorkflowActive
	}
	e.sending[conv] = true
	return nil
}

func (e *Engine) release(conv string) {
	e.mu.Lock()
	delete(e.sending, conv)
	e.mu.Unlock()
}
