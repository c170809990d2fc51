package workflow

import "fmt"

// OutputType is the kind of artifact a workflow produces.
type OutputType string

const (
	OutputSlides OutputType = "slides"
	OutputPoster OutputType = "poster"
)

// ParseOutputType validates a user-supplied output type.
func ParseOutputType(s string) (OutputType, error) {
	switch OutputType(s) {
	case OutputSlides, OutputPoster:
		return OutputType(s), nil
	default:
		return "", fmt.Errorf("workflow: unknown output type %q (want slides or poster)", s)
	}
}

// Workflow is the live progress record of one generation job.
type Workflow struct {
	ConversationID string
	Handle         string
	OutputType     OutputType
	Style          string
	Content        string
	Stages         []Stage
	Active         int
}

// clone copies the stage slice so callers can't mutate tracker state.
func (w Workflow) clone() Workflow {
	w.Stages = append([]Stage(nil), w.Stages...)
	return w
}

// StageView is a stage paired with its derived status.
type StageView struct {
	Stage
	Status StageStatus `json:"status"`
}

// View is the display form of a workflow.
type View struct {
	ConversationID string      `json:"conversation_id"`
	Handle         string      `json:"handle"`
	OutputType     OutputType  `json:"output_type"`
	Style          string      `json:"style,omitempty"`
	Active         int         `json:"active"`
	Stages         []StageView `json:"stages"`
}

// View derives the per-stage statuses.
func (w Workflow) View() View {
	statuses := DeriveStatus(w.Stages, w.Active)
	stages := make([]StageView, len(w.Stages))
	for i, s := range w.Stages {
		stages[i] = StageView{Stage: s, Status: statuses[i]}
	}
	return View{
		ConversationID: w.ConversationID,
		Handle:         w.Handle,
		OutputType:     w.OutputType,
		Style:          w.Style,
		Active:         w.Active,
		Stages:         stages,
	}
}
