// Package workflow tracks the progress of in-flight generation jobs and
// coordinates their cancellation.
package workflow

// NoActive is the active index of a workflow that has not started any stage.
const NoActive = -1

// StageStatus is the display status of one stage. It is always derived
// from the workflow's active index and never stored.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusActive    StageStatus = "active"
	StatusCompleted StageStatus = "completed"
)

// Stage is one named step of a generation workflow.
type Stage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StatusAt returns the status of the stage at index i given the active index.
func StatusAt(i, active int) StageStatus {
	switch {
	case active == NoActive || active < 0:
		return StatusPending
	case i < active:
		return StatusCompleted
	case i == active:
		return StatusActive
	default:
		return StatusPending
	}
}

// DeriveStatus computes the status of every stage from the active index.
func DeriveStatus(stages []Stage, active int) []StageStatus {
	out := make([]StageStatus, len(stages))
	for i := range stages {
		out[i] = StatusAt(i, active)
	}
	return out
}

// DefaultStages returns the stage list used when the pipeline does not
// announce its own.
func DefaultStages(t OutputType) []Stage {
	final := Stage{ID: "generate", Name: "Generate slides", Description: "Rendering slide images"}
	if t == OutputPoster {
		final = Stage{ID: "generate", Name: "Generate poster", Description: "Rendering the poster"}
	}
	return []Stage{
		{ID: "upload", Name: "Upload", Description: "Sending documents to the pipeline"},
		{ID: "parse", Name: "Parse", Description: "Extracting text, figures and equations"},
		{ID: "summary", Name: "Summarize", Description: "Condensing the document content"},
		{ID: "plan", Name: "Plan", Description: "Laying out the presentation"},
		final,
		{ID: "export", Name: "Export", Description: "Packaging PDF and PPTX artifacts"},
	}
}
