package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/paperdeck/internal/files"
	"github.com/zulandar/paperdeck/internal/models"
	"gorm.io/gorm"
)

// ErrUnknownConversation is returned for an id the log has never issued.
var ErrUnknownConversation = errors.New("conversation: unknown conversation")

// DefaultTitle names conversations created without a title.
const DefaultTitle = "New conversation"

// Log is the session-scoped event store. Events of one conversation are
// strictly ordered by arrival.
type Log struct {
	db *gorm.DB
	mu sync.Mutex // serializes sequence assignment
}

// LogOpts holds parameters for creating a Log.
type LogOpts struct {
	DB *gorm.DB
}

// NewLog creates a Log.
func NewLog(opts LogOpts) (*Log, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("conversation: log: db is required")
	}
	return &Log{db: opts.DB}, nil
}

// NewConversation starts an empty conversation.
func (l *Log) NewConversation(ctx context.Context, title string) (models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	c := models.Conversation{ID: uuid.NewString(), Title: title}
	if err := l.db.WithContext(ctx).Create(&c).Error; err != nil {
		return models.Conversation{}, fmt.Errorf("conversation: create: %w", err)
	}
	return c, nil
}

// Conversations lists conversations, most recently active first.
func (l *Log) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := l.db.WithContext(ctx).Order("updated_at DESC, created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	return out, nil
}

// Conversation looks up one conversation.
func (l *Log) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	var c models.Conversation
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("conversation: get %s: %w", id, err)
	}
	return c, nil
}

// Append records m at the end of the conversation and returns it with its
// sequence number and timestamp set. Local file handles are not persisted.
func (l *Log) Append(ctx context.Context, convID string, m Message) (Message, error) {
	if err := m.validate(); err != nil {
		return Message{}, fmt.Errorf("conversation: append: %w", err)
	}
	if _, err := l.Conversation(ctx, convID); err != nil {
		return Message{}, err
	}

	filesJSON, err := marshalJSON(m.Files)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: marshal files: %w", err)
	}
	configJSON, err := marshalJSON(m.Config)
	if err != nil {
		return Message{}, fmt.Errorf("conversation: marshal config: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.nextSequence(ctx, convID)
	if err != nil {
		return Message{}, err
	}
	ev := models.ConversationEvent{
		ConversationID: convID,
		Sequence:       seq,
		Role:           string(m.Role),
		Content:        m.Content,
		Files:          filesJSON,
		Config:         configJSON,
		IsError:        m.IsError,
		PPTURL:         m.Artifacts.PPT,
		PPTXURL:        m.Artifacts.PPTX,
		PosterURL:      m.Artifacts.Poster,
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ev).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", convID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return Message{}, fmt.Errorf("conversation: append to %s: %w", convID, err)
	}
	return toMessage(ev)
}

// Events returns the conversation's events in arrival order, as they read
// back from the store.
func (l *Log) Events(ctx context.Context, convID string) ([]Message, error) {
	if _, err := l.Conversation(ctx, convID); err != nil {
		return nil, err
	}
	var rows []models.ConversationEvent
	if err := l.db.WithContext(ctx).Where("conversation_id = ?", convID).
		Order("sequence").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("conversation: load events: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		m, err := toMessage(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Rounds reconciles the conversation's events into rounds.
func (l *Log) Rounds(ctx context.Context, convID string) ([]Round, error) {
	events, err := l.Events(ctx, convID)
	if err != nil {
		return nil, err
	}
	return Reconcile(events), nil
}

// nextSequence returns the next sequence number for a conversation. The
// caller must hold l.mu.
func (l *Log) nextSequence(ctx context.Context, convID string) (int, error) {
	var maxSeq int
	err := l.db.WithContext(ctx).Model(&models.ConversationEvent{}).
		Where("conversation_id = ?", convID).
		Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq).Error
	if err != nil {
		return 0, fmt.Errorf("conversation: next sequence: %w", err)
	}
	return maxSeq + 1, nil
}

func toMessage(ev models.ConversationEvent) (Message, error) {
	m := Message{
		Sequence: ev.Sequence,
		Role:     Role(ev.Role),
		Content:  ev.Content,
		IsError:  ev.IsError,
		Artifacts: ArtifactURLs{
			PPT:    ev.PPTURL,
			PPTX:   ev.PPTXURL,
			Poster: ev.PosterURL,
		},
		CreatedAt: ev.CreatedAt,
	}
	if ev.Files != "" {
		var refs []files.FileRef
		if err := json.Unmarshal([]byte(ev.Files), &refs); err != nil {
			return Message{}, fmt.Errorf("conversation: decode files of event %d: %w", ev.ID, err)
		}
		m.Files = refs
	}
	if ev.Config != "" {
		var cfg GenerationConfig
		if err := json.Unmarshal([]byte(ev.Config), &cfg); err != nil {
			return Message{}, fmt.Errorf("conversation: decode config of event %d: %w", ev.ID, err)
		}
		m.Config = &cfg
	}
	return m, nil
}

// marshalJSON marshals a value to a JSON string, returning empty string
// for nil pointers and empty slices.
func marshalJSON(v interface{}) (string, error) {
	switch x := v.(type) {
	case []files.FileRef:
		if len(x) == 0 {
			return "", nil
		}
	case *GenerationConfig:
		if x == nil {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
