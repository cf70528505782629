package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cogbenchlab/voicetrial/internal/config"
	"github.com/cogbenchlab/voicetrial/internal/service"
	"github.com/cogbenchlab/voicetrial/internal/trial"
)

// fakeService scripts the facade without touching audio hardware.
type fakeService struct {
	mu       sync.Mutex
	state    trial.State
	stimulus string
	stopErr  error
	last     *trial.Result
}

func (f *fakeService) RunTrial(ctx context.Context, stimulus string) (*trial.Result, error) {
	f.mu.Lock()
	f.state = trial.StateRecording
	f.stimulus = stimulus
	f.mu.Unlock()
	return &trial.Result{AttemptID: "test-attempt", Stimulus: stimulus}, nil
}

func (f *fakeService) StopTrial() error { return f.stopErr }

func (f *fakeService) Status() service.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state
	if state == "" {
		state = trial.StateIdle
	}
	return service.Status{State: state, Stimulus: f.stimulus}
}

func (f *fakeService) LastResult() *trial.Result          { return f.last }
func (f *fakeService) ListSources() ([]string, error)     { return nil, nil }
func (f *fakeService) GetConfig() *config.Config          { return config.Default() }
func (f *fakeService) ExportLastResult(string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func TestServer_StatusEndpoint(t *testing.T) {
	srv := New(&fakeService{}, "0")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if resp.Status.State != trial.StateIdle {
		t.Errorf("expected IDLE, got %s", resp.Status.State)
	}
}

func TestServer_TrialStartRequiresStimulus(t *testing.T) {
	srv := New(&fakeService{}, "0")

	req := httptest.NewRequest(http.MethodPost, "/api/trial/start", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.handleTrialStart(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing stimulus, got %d", w.Code)
	}
}

func TestServer_TrialStartRejectsGet(t *testing.T) {
	srv := New(&fakeService{}, "0")

	req := httptest.NewRequest(http.MethodGet, "/api/trial/start", nil)
	w := httptest.NewRecorder()
	srv.handleTrialStart(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestServer_TrialStopConflictWhenIdle(t *testing.T) {
	srv := New(&fakeService{stopErr: fmt.Errorf("no trial running")}, "0")

	req := httptest.NewRequest(http.MethodPost, "/api/trial/stop", nil)
	w := httptest.NewRecorder()
	srv.handleTrialStop(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 with no trial running, got %d", w.Code)
	}
}

func TestServer_ResultNotFoundBeforeFirstTrial(t *testing.T) {
	srv := New(&fakeService{}, "0")

	req := httptest.NewRequest(http.MethodGet, "/api/result", nil)
	w := httptest.NewRecorder()
	srv.handleResult(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any trial, got %d", w.Code)
	}
}

func TestServer_ResultReturnsLastTrial(t *testing.T) {
	srv := New(&fakeService{last: &trial.Result{AttemptID: "abc", StopReason: trial.StopManual}}, "0")

	req := httptest.NewRequest(http.MethodGet, "/api/result", nil)
	w := httptest.NewRecorder()
	srv.handleResult(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result trial.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if result.AttemptID != "abc" || result.StopReason != trial.StopManual {
		t.Errorf("result mismatch: %+v", result)
	}
}
