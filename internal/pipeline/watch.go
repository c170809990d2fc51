package pipeline

import (
	"context"
	"fmt"
	"log"
	"net/url"
)

// EventType discriminates progress frames.
type EventType string

const (
	EventStage     EventType = "stage"
	EventSuccess   EventType = "success"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
)

// Event is one frame pushed by the pipeline for a job.
type Event struct {
	Type       EventType `json:"type"`
	StageIndex int       `json:"stage_index"`
	PPTURL     string    `json:"ppt_url,omitempty"`
	PPTXURL    string    `json:"pptx_url,omitempty"`
	PosterURL  string    `json:"poster_url,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Terminal reports whether the event ends the job.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventSuccess, EventError, EventCancelled:
		return true
	}
	return false
}

// Outcome is the terminal result of a job.
type Outcome struct {
	Status    EventType // EventSuccess, EventError or EventCancelled
	PPTURL    string
	PPTXURL   string
	PosterURL string
	Message   string
}

// Watch follows a job's progress stream until it reports an outcome. Each
// stage frame is passed to onStage. Watch returns an error if the stream
// ends before an outcome arrives or ctx is cancelled.
func (c *Client) Watch(ctx context.Context, handle string, onStage func(index int)) (Outcome, error) {
	u := c.wsURL(workflowPath + url.PathEscape(handle) + "/events")
	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return Outcome{}, fmt.Errorf("pipeline: watch %s: %s: %w", handle, resp.Status, err)
		}
		return Outcome{}, fmt.Errorf("pipeline: watch %s: %w", handle, err)
	}
	defer conn.Close()

	// Closing the connection unblocks ReadJSON.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return Outcome{}, fmt.Errorf("pipeline: watch %s: stream ended before an outcome: %w", handle, err)
		}
		switch {
		case ev.Type == EventStage:
			if onStage != nil {
				onStage(ev.StageIndex)
			}
		case ev.Terminal():
			return Outcome{
				Status:    ev.Type,
				PPTURL:    ev.PPTURL,
				PPTXURL:   ev.PPTXURL,
				PosterURL: ev.PosterURL,
				Message:   ev.Message,
			}, nil
		default:
			log.Printf("pipeline: watch %s: ignoring event type %q", handle, ev.Type)
		}
	}
}
