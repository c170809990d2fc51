package dashboard

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zulandar/paperdeck/internal/engine"
	"github.com/zulandar/paperdeck/internal/models"
)

// ConversationRow holds conversation data for the sidebar.
type ConversationRow struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	UpdatedAt  time.Time `json:"updated_at"`
	Updated    string    `json:"updated"`
	Generating bool      `json:"generating"`
}

// ConversationSummary lists conversations, most recently active first,
// flagging the ones with a generation in flight.
func ConversationSummary(ctx context.Context, e *engine.Engine) ([]ConversationRow, error) {
	convs, err := e.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]ConversationRow, len(convs))
	for i, c := range convs {
		rows[i] = conversationRow(e, c)
	}
	return rows, nil
}

func conversationRow(e *engine.Engine, c models.Conversation) ConversationRow {
	_, active := e.Tracker().Active(c.ID)
	return ConversationRow{
		ID:         c.ID,
		Title:      c.Title,
		UpdatedAt:  c.UpdatedAt,
		Updated:    TimeAgo(c.UpdatedAt),
		Generating: active,
	}
}

// TimeAgo formats t relative to now, e.g. "3 minutes ago".
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
