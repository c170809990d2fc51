package workflow

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

var (
	// ErrWorkflowActive is returned when a conversation already has a
	// workflow in flight.
	ErrWorkflowActive = errors.New("workflow: a generation is already running for this conversation")
	// ErrUnknownWorkflow is returned for updates keyed by a handle the
	// tracker does not hold.
	ErrUnknownWorkflow = errors.New("workflow: unknown workflow handle")
)

// Update is published whenever a tracked workflow changes. View is nil
// when the workflow was cleared.
type Update struct {
	ConversationID string `json:"conversation_id"`
	View           *View  `json:"workflow"`
}

// Tracker holds the in-flight workflow of each conversation. It does not
// compute progress; the pipeline pushes stage indexes through Advance.
type Tracker struct {
	mu        sync.RWMutex
	byConv    map[string]*Workflow
	byHandle  map[string]string // handle -> conversation id
	viewing   string
	subs      map[int]chan Update
	nextSubID int
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byConv:   make(map[string]*Workflow),
		byHandle: make(map[string]string),
		subs:     make(map[int]chan Update),
	}
}

// Start registers a workflow accepted by the pipeline.
func (t *Tracker) Start(wf Workflow) error {
	if wf.ConversationID == "" || wf.Handle == "" {
		return fmt.Errorf("workflow: conversation id and handle are required")
	}
	if wf.Active < NoActive || wf.Active >= len(wf.Stages) {
		wf.Active = NoActive
	}

	t.mu.Lock()
	if _, ok := t.byConv[wf.ConversationID]; ok {
		t.mu.Unlock()
		return ErrWorkflowActive
	}
	stored := wf.clone()
	t.byConv[wf.ConversationID] = &stored
	t.byHandle[wf.Handle] = wf.ConversationID
	view := stored.View()
	t.publishLocked(Update{ConversationID: wf.ConversationID, View: &view})
	t.mu.Unlock()

	log.Printf("workflow: started %s [conv=%s type=%s stages=%d]",
		wf.Handle, wf.ConversationID, wf.OutputType, len(wf.Stages))
	return nil
}

// Advance moves the active pointer of the workflow identified by handle.
func (t *Tracker) Advance(handle string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conv, ok := t.byHandle[handle]
	if !ok {
		return ErrUnknownWorkflow
	}
	wf := t.byConv[conv]
	if index < NoActive || index >= len(wf.Stages) {
		return fmt.Errorf("workflow: stage index %d out of range for %s (%d stages)", index, handle, len(wf.Stages))
	}
	if wf.Active == index {
		return nil
	}
	wf.Active = index
	view := wf.View()
	t.publishLocked(Update{ConversationID: conv, View: &view})
	return nil
}

// Clear removes the workflow of a conversation. It reports whether one
// was present.
func (t *Tracker) Clear(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clearLocked(conversationID)
}

// ClearHandle removes the workflow only if it is still the one identified
// by handle, so a late acknowledgement never clears a newer job.
func (t *Tracker) ClearHandle(handle string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	conv, ok := t.byHandle[handle]
	if !ok {
		return false
	}
	return t.clearLocked(conv)
}

func (t *Tracker) clearLocked(conversationID string) bool {
	wf, ok := t.byConv[conversationID]
	if !ok {
		return false
	}
	delete(t.byConv, conversationID)
	delete(t.byHandle, wf.Handle)
	t.publishLocked(Update{ConversationID: conversationID})
	log.Printf("workflow: cleared %s [conv=%s]", wf.Handle, conversationID)
	return true
}

// Active returns the workflow of a conversation regardless of which
// conversation is being viewed.
func (t *Tracker) Active(conversationID string) (Workflow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	wf, ok := t.byConv[conversationID]
	if !ok {
		return Workflow{}, false
	}
	return wf.clone(), true
}

// SetViewing records which conversation is on screen.
func (t *Tracker) SetViewing(conversationID string) {
	t.mu.Lock()
	t.viewing = conversationID
	t.mu.Unlock()
}

// Viewing returns the conversation on screen.
func (t *Tracker) Viewing() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.viewing
}

// Visible returns the workflow of the conversation being viewed. A job
// running for any other conversation is never visible.
func (t *Tracker) Visible() (View, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.viewing == "" {
		return View{}, false
	}
	wf, ok := t.byConv[t.viewing]
	if !ok || wf.ConversationID != t.viewing {
		return View{}, false
	}
	return wf.View(), true
}

// Subscribe returns a channel of updates and a function that ends the
// subscription. Slow subscribers miss updates rather than block the
// tracker.
func (t *Tracker) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) publishLocked(u Update) {
	for _, ch := range t.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
