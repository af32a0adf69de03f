package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/janekbaraniewski/sessionlens/internal/config"
	"github.com/janekbaraniewski/sessionlens/internal/core"
)

const claudeSessionFixture = `{"type":"user","timestamp":"2026-03-01T09:00:00Z","sessionId":"sess-1","cwd":"%WS%","message":{"role":"user","content":"fix the bug"}}
{"type":"assistant","timestamp":"2026-03-01T09:00:10Z","sessionId":"sess-1","cwd":"%WS%","message":{"id":"m1","role":"assistant","content":[{"type":"text","text":"on it"}],"usage":{"input_tokens":50,"output_tokens":20}}}
`

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	claudeDir := filepath.Join(dir, "claude")
	workspace := filepath.Join(dir, "workspace")
	if err := os.MkdirAll(claudeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	fixture := strings.ReplaceAll(claudeSessionFixture, "%WS%", workspace)
	if err := os.WriteFile(filepath.Join(claudeDir, "sess-1.jsonl"), []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Sources.CodexSessionsDir = filepath.Join(dir, "codex-missing")
	cfg.Sources.ClaudeProjectsDir = claudeDir
	cfg.Sources.ClaudeConfigDir = ""
	cfg.DBPath = filepath.Join(dir, "test.db")

	svc, err := NewService(cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc, workspace
}

func getJSON(t *testing.T, server *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(server.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	var body map[string]any
	resp := getJSON(t, server, "/healthz", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestUsageTotalEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	var body struct {
		Usage core.TokenUsage `json:"usage"`
		Stats core.ScanStats  `json:"stats"`
	}
	resp := getJSON(t, server, "/v1/usage/total", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body.Usage.InputTokens != 50 || body.Usage.OutputTokens != 20 {
		t.Fatalf("usage = %+v", body.Usage)
	}
	if body.Stats.Files != 1 {
		t.Fatalf("stats = %+v", body.Stats)
	}
}

func TestSessionListAndWorkspaceFilter(t *testing.T) {
	svc, workspace := newTestService(t)
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	var body struct {
		Sessions []core.SessionMeta `json:"sessions"`
	}
	getJSON(t, server, "/v1/sessions", &body)
	if len(body.Sessions) != 1 || body.Sessions[0].ID != "sess-1" {
		t.Fatalf("sessions = %+v", body.Sessions)
	}

	var filtered struct {
		Sessions []core.SessionMeta `json:"sessions"`
	}
	getJSON(t, server, "/v1/sessions?workspace="+workspace+"&refresh=1", &filtered)
	if len(filtered.Sessions) != 1 {
		t.Fatalf("workspace filter dropped the matching session: %+v", filtered.Sessions)
	}

	var none struct {
		Sessions []core.SessionMeta `json:"sessions"`
	}
	getJSON(t, server, "/v1/sessions?workspace=/nowhere/else&refresh=1", &none)
	if len(none.Sessions) != 0 {
		t.Fatalf("unrelated workspace matched: %+v", none.Sessions)
	}
}

func TestSessionListMergesAcrossClaudeRoots(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "claude")
	alt := filepath.Join(dir, "claude-alt")
	workspace := filepath.Join(dir, "workspace")
	for _, d := range []string{primary, alt} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	fixture := strings.ReplaceAll(claudeSessionFixture, "%WS%", workspace)
	if err := os.WriteFile(filepath.Join(primary, "sess-1.jsonl"), []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(alt, "sess-1.jsonl"), []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Sources.CodexSessionsDir = filepath.Join(dir, "codex-missing")
	cfg.Sources.ClaudeProjectsDir = primary
	cfg.Sources.ClaudeConfigDir = alt
	cfg.DBPath = filepath.Join(dir, "test.db")

	svc, err := NewService(cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	var body struct {
		Sessions []core.SessionMeta `json:"sessions"`
	}
	getJSON(t, server, "/v1/sessions", &body)
	if len(body.Sessions) != 1 {
		t.Fatalf("sessions = %d, want one merged across both roots", len(body.Sessions))
	}
	if len(body.Sessions[0].SourceFiles) != 2 {
		t.Fatalf("source files = %v, want both roots' copies", body.Sessions[0].SourceFiles)
	}

	// The duplicated assistant message dedups by id, so usage stays single.
	var summary core.SessionSummary
	getJSON(t, server, "/v1/sessions/sess-1", &summary)
	if summary.TokenUsage.InputTokens != 50 || summary.TokenUsage.OutputTokens != 20 {
		t.Fatalf("usage = %+v, want the message counted once", summary.TokenUsage)
	}
	if summary.ScanStats.Files != 2 {
		t.Fatalf("scan files = %d, want both copies scanned", summary.ScanStats.Files)
	}
}

func TestSessionSummaryAndMessages(t *testing.T) {
	svc, _ := newTestService(t)
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	var summary core.SessionSummary
	resp := getJSON(t, server, "/v1/sessions/sess-1", &summary)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if summary.ID != "sess-1" || summary.TokenUsage.InputTokens != 50 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.DurationMs != 10000 {
		t.Fatalf("duration = %d, want 10000", summary.DurationMs)
	}

	var page core.MessagePage
	getJSON(t, server, "/v1/sessions/sess-1/messages?limit=10", &page)
	if page.Total != 2 || len(page.Entries) != 2 {
		t.Fatalf("page = %+v", page)
	}

	resp = getJSON(t, server, "/v1/sessions/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status = %d", resp.StatusCode)
	}
}

func TestProjectCRUDOverHTTP(t *testing.T) {
	svc, workspace := newTestService(t)
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	payload := fmt.Sprintf(`{"name":"demo","workspace":%q,"tool":"claude"}`, workspace)
	resp, err := http.Post(server.URL+"/v1/projects", "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatal(err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || created.ID == "" {
		t.Fatalf("create status=%d id=%q", resp.StatusCode, created.ID)
	}

	var sessions struct {
		Sessions []core.SessionMeta `json:"sessions"`
	}
	getJSON(t, server, "/v1/projects/"+created.ID+"/sessions", &sessions)
	if len(sessions.Sessions) != 1 {
		t.Fatalf("project sessions = %+v", sessions.Sessions)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/projects/"+created.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}

	resp = getJSON(t, server, "/v1/projects/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestScanStreamWebsocket(t *testing.T) {
	svc, _ := newTestService(t)
	server := httptest.NewServer(svc.Handler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/scan/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sawDone := false
	for !sawDone {
		var frame struct {
			Stage string         `json:"stage"`
			Stats core.ScanStats `json:"stats"`
			Error string         `json:"error"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if frame.Error != "" {
			t.Fatalf("stream error: %s", frame.Error)
		}
		if frame.Stage == "done" {
			sawDone = true
			if frame.Stats.Files != 1 {
				t.Fatalf("final stats = %+v", frame.Stats)
			}
		}
	}
}
