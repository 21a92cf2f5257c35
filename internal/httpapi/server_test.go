package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/provider"
	"github.com/zlhalen/Nexar/internal/runregistry"
	"github.com/zlhalen/Nexar/internal/terminal"
	"github.com/zlhalen/Nexar/internal/tools"
	"github.com/zlhalen/Nexar/internal/workspace"
)

type stubPlanner struct {
	batch *engine.ActionBatch
}

func (p *stubPlanner) Next(_ context.Context, req engine.PlanRequest) (*engine.ActionBatch, *provider.ChatResult, error) {
	b := *p.batch
	b.Iteration = req.Iteration
	return &b, &provider.ChatResult{}, nil
}

func (p *stubPlanner) Fallback(iteration int, reason string) *engine.ActionBatch {
	return &engine.ActionBatch{
		Version:   "1.0",
		Iteration: iteration,
		Decision:  engine.ActionBatchDecision{Mode: "ask_user", Reason: reason},
		Actions:   []engine.ActionSpec{{ID: "a1", Type: tools.AskUser, Input: map[string]any{"question": reason}}},
	}
}

func doneBatch() *engine.ActionBatch {
	return &engine.ActionBatch{
		Version:  "1.0",
		Decision: engine.ActionBatchDecision{Mode: "done"},
		Actions:  []engine.ActionSpec{{ID: "a1", Type: tools.FinalAnswer, Input: map[string]any{"content": "done"}}},
	}
}

func newTestServer(t *testing.T) (*Server, *workspace.Service) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	ex := engine.NewExecutor(&stubPlanner{batch: doneBatch()}, nil, ws, 4)
	reg := runregistry.New(ex, 1800, nil)
	t.Cleanup(reg.Close)
	term := terminal.New(ws)
	t.Cleanup(term.CloseAll)
	s := New(Options{
		Workspace: ws,
		Router:    provider.NewRouter(nil),
		Registry:  reg,
		Terminal:  term,
	})
	return s, ws
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	s.mux().ServeHTTP(rr, req)
	return rr
}

func TestFilesWriteThenReadRoundTrips(t *testing.T) {
	s, _ := newTestServer(t)

	rr := doRequest(s, http.MethodPost, "/api/files/write", writeFileRequest{Path: "hello.txt", Content: "hi there"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, "/api/files/read?path=hello.txt", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "hi there", got["content"])
	assert.Equal(t, "plaintext", got["language"])
}

func TestFilesReadRejectsPathEscape(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/files/read?path=../../etc/passwd", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "path escape", got["detail"])
}

func TestFilesReadMissingReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/files/read?path=nope.txt", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestChatRunsOneTickAndReturnsAIResponse(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/api/ai/chat", chatRequest{
		Messages: []engine.ChatMessage{{Role: "user", Content: "fix it"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var resp engine.AIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "done", resp.Content)
}

func TestRunsStartThenGetThenContinueConflict(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodPost, "/api/ai/runs/start", chatRequest{
		Messages: []engine.ChatMessage{{Role: "user", Content: "fix it"}},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var started map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &started))
	runID := started["run_id"]
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		rr := doRequest(s, http.MethodGet, "/api/ai/runs/"+runID, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var snap engine.Snapshot
		_ = json.Unmarshal(rr.Body.Bytes(), &snap)
		return snap.Status == engine.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rr = doRequest(s, http.MethodPost, "/api/ai/runs/"+runID+"/continue", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRunsGetUnknownReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/ai/runs/no-such-run", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTerminalCreateWriteOutputAndDelete(t *testing.T) {
	s, _ := newTestServer(t)

	rr := doRequest(s, http.MethodPost, "/api/terminal/sessions", createTerminalRequest{})
	require.Equal(t, http.StatusOK, rr.Code)
	var info terminal.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	require.NotEmpty(t, info.SessionID)

	rr = doRequest(s, http.MethodPost, "/api/terminal/sessions/"+info.SessionID+"/input", terminalInputRequest{Data: "echo hi\n"})
	assert.Equal(t, http.StatusOK, rr.Code)

	require.Eventually(t, func() bool {
		rr := doRequest(s, http.MethodGet, "/api/terminal/sessions/"+info.SessionID+"/output", nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var out terminal.Info
		_ = json.Unmarshal(rr.Body.Bytes(), &out)
		return bytes.Contains([]byte(out.Output), []byte("hi"))
	}, 3*time.Second, 20*time.Millisecond)

	rr = doRequest(s, http.MethodDelete, "/api/terminal/sessions/"+info.SessionID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, "/api/terminal/sessions/"+info.SessionID+"/output", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDiagReturnsSnapshot(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/diag", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Contains(t, snap, "goroutines")
}

func TestAuditRunsWithNoStoreReturnsEmptyList(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doRequest(s, http.MethodGet, "/api/audit/runs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Empty(t, got["runs"])
}
