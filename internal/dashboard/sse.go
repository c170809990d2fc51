package dashboard

import (
	"io"
	"log"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/zulandar/paperdeck/internal/auth"
	"github.com/zulandar/paperdeck/internal/workflow"
)

// SSE event names.
const (
	eventConnected = "connected"
	eventWorkflow  = "workflow"
	eventSession   = "session"
	eventHeartbeat = "heartbeat"
)

// handleSSE streams workflow updates for the conversation being viewed,
// login session changes and a periodic heartbeat.
func (s *server) handleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	tracker := s.engine.Tracker()
	updates, unsubscribe := tracker.Subscribe(32)
	defer unsubscribe()

	writeSSE(c.Writer, eventConnected, map[string]string{"type": "connected"})
	if v, ok := tracker.Visible(); ok {
		writeSSE(c.Writer, eventWorkflow, workflow.Update{ConversationID: v.ConversationID, View: &v})
	}
	var lastSession auth.Session
	if s.auth != nil {
		lastSession = s.auth.Session()
		writeSSE(c.Writer, eventSession, lastSession)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.poll)
	heartbeat := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			// Jobs of other conversations keep running but stay hidden.
			if u.ConversationID != tracker.Viewing() {
				continue
			}
			writeSSE(c.Writer, eventWorkflow, u)
			c.Writer.Flush()
		case <-ticker.C:
			if s.auth == nil {
				continue
			}
			cur := s.auth.Session()
			if cur == lastSession {
				continue
			}
			lastSession = cur
			writeSSE(c.Writer, eventSession, cur)
			c.Writer.Flush()
		case <-heartbeat.C:
			writeSSE(c.Writer, eventHeartbeat, map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	if err := sse.Encode(w, sse.Event{Event: event, Data: data}); err != nil {
		log.Printf("dashboard: sse %s: %v", event, err)
	}
}
