package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/paperdeck/internal/workflow"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientOpts{
		BaseURL:       srv.URL,
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientOpts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubmit_SendsRequest(t *testing.T) {
	var got Request
	mux := http.NewServeMux()
	mux.HandleFunc(GeneratePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"workflow_id":"wf-1","stages":[{"id":"a","name":"A"},{"id":"b","name":"B"}]}`))
	})
	c := newTestClient(t, mux)

	req := Request{
		Files:      []string{"/uploads/abc.pdf"},
		OutputType: workflow.OutputSlides,
		Style:      "academic",
		Length:     "short",
	}
	job, err := c.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	if job.Handle != "wf-1" {
		t.Errorf("Handle = %q", job.Handle)
	}
	want := []workflow.Stage{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	if diff := cmp.Diff(want, job.Stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_DefaultStages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"workflow_id":"wf-2"}`))
	}))
	job, err := c.Submit(context.Background(), Request{Files: []string{"/u/a.pdf"}, OutputType: workflow.OutputPoster})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(workflow.DefaultStages(workflow.OutputPoster), job.Stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_Errors(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	ctx := context.Background()

	if _, err := c.Submit(ctx, Request{OutputType: workflow.OutputSlides}); err == nil {
		t.Error("expected error without files")
	}
	if _, err := c.Submit(ctx, Request{Files: []string{"x"}, OutputType: "video"}); err == nil {
		t.Error("expected error for bad output type")
	}
	if _, err := c.Submit(ctx, Request{Files: []string{"x"}, OutputType: workflow.OutputSlides}); err == nil {
		t.Error("expected error for missing workflow_id")
	}
}

func TestSubmit_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	_, err := c.Submit(context.Background(), Request{Files: []string{"x"}, OutputType: workflow.OutputSlides})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable || httpErr.Body != "queue full" {
		t.Errorf("HTTPError = %+v", httpErr)
	}
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    workflow.CancelResult
		wantErr bool
	}{
		{"acknowledged", http.StatusOK, `{"status":"cancelled"}`, workflow.CancelAcknowledged, false},
		{"already completed", http.StatusOK, `{"status":"already_completed"}`, workflow.CancelAlreadyCompleted, false},
		{"conflict means finished", http.StatusConflict, `job done`, workflow.CancelAlreadyCompleted, false},
		{"empty body", http.StatusOK, ``, workflow.CancelAcknowledged, false},
		{"unknown status", http.StatusOK, `{"status":"maybe"}`, "", true},
		{"server error", http.StatusBadGateway, `upstream`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var path string
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path = r.URL.Path
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			got, err := c.Cancel(context.Background(), "wf-9")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if path != "/api/workflows/wf-9/cancel" {
				t.Errorf("path = %q", path)
			}
		})
	}
}

func TestClient_SatisfiesCanceller(t *testing.T) {
	var _ workflow.Canceller = (*Client)(nil)
}

func TestWSURL(t *testing.T) {
	tests := []struct{ base, want string }{
		{"http://localhost:8000", "ws://localhost:8000/x"},
		{"https://decks.example.com/", "wss://decks.example.com/x"},
	}
	for _, tt := range tests {
		c, err := NewClient(ClientOpts{BaseURL: tt.base})
		if err != nil {
			t.Fatal(err)
		}
		if got := c.wsURL("/x"); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
