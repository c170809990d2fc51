// Package conversation holds the event log of each conversation and turns
// it into user/assistant rounds.
package conversation

import (
	"fmt"
	"time"

	"github.com/zulandar/paperdeck/internal/files"
	"github.com/zulandar/paperdeck/internal/workflow"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// GenerationConfig is the set of options a generation request was sent
// with.
type GenerationConfig struct {
	OutputType workflow.OutputType `json:"output_type"`
	Style      string              `json:"style,omitempty"`
	Content    string              `json:"content,omitempty"`
	Length     string              `json:"length,omitempty"`  // slides only
	Density    string              `json:"density,omitempty"` // poster only
}

// ArtifactURLs are the download links of a finished generation.
type ArtifactURLs struct {
	PPT    string `json:"ppt_url,omitempty"`
	PPTX   string `json:"pptx_url,omitempty"`
	Poster string `json:"poster_url,omitempty"`
}

// Empty reports whether no artifact was produced.
func (a ArtifactURLs) Empty() bool {
	return a.PPT == "" && a.PPTX == "" && a.Poster == ""
}

// Message is one event in a conversation. It is immutable once appended.
type Message struct {
	Sequence  int               `json:"sequence"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Files     []files.FileRef   `json:"files,omitempty"`
	Config    *GenerationConfig `json:"config,omitempty"`
	IsError   bool              `json:"is_error,omitempty"`
	Artifacts ArtifactURLs      `json:"artifacts"`
	CreatedAt time.Time         `json:"created_at"`
}

// validate checks the role-specific shape of a message.
func (m Message) validate() error {
	switch m.Role {
	case RoleUser:
		if !m.Artifacts.Empty() {
			return fmt.Errorf("user message cannot carry artifacts")
		}
	case RoleAssistant:
		if len(m.Files) > 0 {
			return fmt.Errorf("assistant message cannot carry files")
		}
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}
