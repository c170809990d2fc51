package engine

import (
	"context"
	"fmt"

	"github.com/zulandar/paperdeck/internal/conversation"
	"github.com/zulandar/paperdeck/internal/files"
)

// RoundView is a round ready for display: the user's attachments are
// resolved against the upload registry.
type RoundView struct {
	User      *conversation.Message          `json:"user,omitempty"`
	Assistant *conversation.Message          `json:"assistant,omitempty"`
	Config    *conversation.GenerationConfig `json:"config,omitempty"`
	Previews  []files.Preview                `json:"previews,omitempty"`
	Open      bool                           `json:"open"`
}

// Rounds returns the conversation's rounds in order.
func (e *Engine) Rounds(ctx context.Context, conv string) ([]RoundView, error) {
	rounds, err := e.log.Rounds(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("engine: rounds: %w", err)
	}
	views := make([]RoundView, len(rounds))
	for i, r := range rounds {
		v := RoundView{
			User:      r.User,
			Assistant: r.Assistant,
			Config:    r.Config,
			Open:      r.Open(),
		}
		if r.User != nil {
			for _, ref := range r.User.Files {
				v.Previews = append(v.Previews, files.NewPreview(ref, e.registry))
			}
		}
		views[i] = v
	}
	return views, nil
}
