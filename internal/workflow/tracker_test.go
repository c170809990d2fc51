package workflow

import (
	"errors"
	"testing"
	"time"
)

func startTestWorkflow(t *testing.T, tr *Tracker, conv, handle string) {
	t.Helper()
	err := tr.Start(Workflow{
		ConversationID: conv,
		Handle:         handle,
		OutputType:     OutputSlides,
		Stages:         threeStages(),
		Active:         NoActive,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestTracker_StartAndAdvance(t *testing.T) {
	tr := NewTracker()
	startTestWorkflow(t, tr, "c1", "h1")

	if err := tr.Advance("h1", 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	wf, ok := tr.Active("c1")
	if !ok {
		t.Fatal("expected active workflow")
	}
	if wf.Active != 1 {
		t.Errorf("Active = %d, want 1", wf.Active)
	}
}

func TestTracker_StartValidation(t *testing.T) {
	tr := NewTracker()
	if err := tr.Start(Workflow{Handle: "h"}); err == nil {
		t.Error("expected error without conversation id")
	}
	if err := tr.Start(Workflow{ConversationID: "c"}); err == nil {
		t.Error("expected error without handle")
	}
}

func TestTracker_StartTwiceForConversation(t *testing.T) {
	tr := NewTracker()
	startTestWorkflow(t, tr, "c1", "h1")
	err := tr.Start(Workflow{ConversationID: "c1", Handle: "h2", Stages: threeStages()})
	if !errors.Is(err, ErrWorkflowActive) {
		t.Errorf("err = %v, want ErrWorkflowActive", err)
	}
}

func TestTracker_AdvanceErrors(t *testing.T) {
	tr := NewTracker()
	if err := tr.Advance("nope", 0); !errors.Is(err, ErrUnknownWorkflow) {
		t.Errorf("err = %v, want ErrUnknownWorkflow", err)
	}
	startTestWorkflow(t, tr, "c1", "h1")
	if err := tr.Advance("h1", 3); err == nil {
		t.Error("expected out of range error")
	}
	if err := tr.Advance("h1", -2); err == nil {
		t.Error("expected out of range error for -2")
	}
}

func TestTracker_ActiveReturnsCopy(t *testing.T) {
	tr := NewTracker()
	startTestWorkflow(t, tr, "c1", "h1")
	wf, _ := tr.Active("c1")
	wf.Stages[0].Name = "mutated"

	again, _ := tr.Active("c1")
	if again.Stages[0].Name != "Upload" {
		t.Errorf("tracker state mutated through copy: %q", again.Stages[0].Name)
	}
}

func TestTracker_VisibleOnlyForViewedConversation(t *testing.T) {
	tr := NewTracker()
	startTestWorkflow(t, tr, "c1", "h1")

	if _, ok := tr.Visible(); ok {
		t.Error("nothing viewed, expected no visible workflow")
	}

	tr.SetViewing("c2")
	if _, ok := tr.Visible(); ok {
		t.Error("background job leaked into another conversation")
	}

	tr.SetViewing("c1")
	v, ok := tr.Visible()
	if !ok {
		t.Fatal("expected visible workflow for c1")
	}
	if v.Handle != "h1" {
		t.Errorf("Handle = %q, want h1", v.Handle)
	}
}

func TestTracker_ClearHandleIgnoresNewerWorkflow(t *testing.T) {
	tr := NewTracker()
	startTestWorkflow(t, tr, "c1", "h1")
	if !tr.Clear("c1") {
		t.Fatal("expected Clear to report a workflow")
	}
	startTestWorkflow(t, tr, "c1", "h2")

	if tr.ClearHandle("h1") {
		t.Error("stale handle cleared a newer workflow")
	}
	if _, ok := tr.Active("c1"); !ok {
		t.Error("newer workflow should still be active")
	}
	if !tr.ClearHandle("h2") {
		t.Error("expected ClearHandle(h2) to succeed")
	}
	if tr.Clear("c1") {
		t.Error("second clear should report nothing")
	}
}

func TestTracker_Subscribe(t *testing.T) {
	tr := NewTracker()
	ch, unsubscribe := tr.Subscribe(8)
	defer unsubscribe()

	startTestWorkflow(t, tr, "c1", "h1")
	if err := tr.Advance("h1", 0); err != nil {
		t.Fatal(err)
	}
	tr.Clear("c1")

	var got []Update
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case u := <-ch:
			got = append(got, u)
		case <-timeout:
			t.Fatalf("received %d updates, want 3", len(got))
		}
	}
	if got[0].View == nil || got[0].View.Active != NoActive {
		t.Errorf("start update = %+v", got[0])
	}
	if got[1].View == nil || got[1].View.Stages[0].Status != StatusActive {
		t.Errorf("advance update = %+v", got[1])
	}
	if got[2].View != nil {
		t.Errorf("clear update should have nil view: %+v", got[2])
	}
}

func TestTracker_UnsubscribeClosesChannel(t *testing.T) {
	tr := NewTracker()
	ch, unsubscribe := tr.Subscribe(1)
	unsubscribe()
	unsubscribe()
	if _, open := <-ch; open {
		t.Error("expected closed channel")
	}
	startTestWorkflow(t, tr, "c1", "h1")
}
