package logsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeSessionFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func claudeHeader(sessionID, cwd, ts string) string {
	return `{"type":"user","timestamp":"` + ts + `","sessionId":"` + sessionID + `","cwd":"` + cwd + `","message":{"role":"user","content":"hi"}}` + "\n"
}

func TestDiscoverMergesMultiFileSessions(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, dir, "b.jsonl", claudeHeader("s1", "/home/dev/proj", "2026-03-01T10:00:00Z"))
	writeSessionFile(t, dir, "a.jsonl", claudeHeader("s1", "/home/dev/proj", "2026-03-01T09:00:00Z"))
	writeSessionFile(t, dir, "c.jsonl", claudeHeader("s2", "/home/dev/other", "2026-03-02T09:00:00Z"))

	sessions, stats, err := Discover(context.Background(), Source{Adapter: NewClaudeAdapter(), Root: dir}, "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 3 {
		t.Fatalf("files = %d", stats.Files)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want s1 merged", len(sessions))
	}

	// Newest first.
	if sessions[0].ID != "s2" || sessions[1].ID != "s1" {
		t.Fatalf("order = %s, %s", sessions[0].ID, sessions[1].ID)
	}

	merged := sessions[1]
	if len(merged.SourceFiles) != 2 {
		t.Fatalf("source files = %v", merged.SourceFiles)
	}
	if filepath.Base(merged.SourceFiles[0]) != "a.jsonl" {
		t.Fatalf("source files not sorted: %v", merged.SourceFiles)
	}
	if merged.CreatedAt.Format("15:04") != "09:00" {
		t.Fatalf("created at = %v, want earliest across files", merged.CreatedAt)
	}
}

func TestDiscoverWorkspaceFilter(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, dir, "a.jsonl", claudeHeader("in", "/home/dev/proj/sub", "2026-03-01T09:00:00Z"))
	writeSessionFile(t, dir, "b.jsonl", claudeHeader("out", "/home/dev/proj2", "2026-03-01T09:00:00Z"))

	sessions, _, err := Discover(context.Background(), Source{Adapter: NewClaudeAdapter(), Root: dir}, "/home/dev/proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "in" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestDiscoverMissingRootIsEmpty(t *testing.T) {
	sessions, stats, err := Discover(context.Background(), Source{
		Adapter: NewClaudeAdapter(),
		Root:    filepath.Join(t.TempDir(), "nope"),
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 || stats.Files != 0 {
		t.Fatalf("sessions=%d files=%d", len(sessions), stats.Files)
	}
}

func TestDiscoverSkipsNonJSONLAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, dir, "notes.txt", "not a transcript")
	writeSessionFile(t, dir, "foreign.jsonl", `{"some":"other format"}`+"\n")
	writeSessionFile(t, dir, "ok.jsonl", claudeHeader("s1", "/w", "2026-03-01T09:00:00Z"))

	sessions, stats, err := Discover(context.Background(), Source{Adapter: NewClaudeAdapter(), Root: dir}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	if stats.Files != 2 {
		t.Fatalf("files = %d, want the two .jsonl files", stats.Files)
	}
	if stats.SkippedFiles != 1 {
		t.Fatalf("skipped files = %d, want the foreign file", stats.SkippedFiles)
	}
	if stats.SkippedLines != 0 {
		t.Fatalf("skipped lines = %d, header rejections count whole files", stats.SkippedLines)
	}
}

func TestDiscoverAllMergesSessionsAcrossRoots(t *testing.T) {
	primary := t.TempDir()
	alt := t.TempDir()
	writeSessionFile(t, primary, "a.jsonl", claudeHeader("s1", "/home/dev/proj", "2026-03-01T10:00:00Z"))
	writeSessionFile(t, alt, "b.jsonl", claudeHeader("s1", "/home/dev/proj", "2026-03-01T09:00:00Z"))

	sources := []Source{
		{Adapter: NewClaudeAdapter(), Root: primary},
		{Adapter: NewClaudeAdapter(), Root: alt},
	}
	sessions, stats, err := DiscoverAll(context.Background(), sources, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want one merged entry for both roots", len(sessions))
	}
	merged := sessions[0]
	if len(merged.SourceFiles) != 2 {
		t.Fatalf("source files = %v, want the union across roots", merged.SourceFiles)
	}
	if merged.CreatedAt.Format("15:04") != "09:00" {
		t.Fatalf("created at = %v, want earliest across roots", merged.CreatedAt)
	}
	if stats.Files != 2 {
		t.Fatalf("files = %d", stats.Files)
	}
}

func TestDiscoverAllKeepsSameIDAcrossToolsSeparate(t *testing.T) {
	claudeDir := t.TempDir()
	codexDir := t.TempDir()
	writeSessionFile(t, claudeDir, "a.jsonl", claudeHeader("shared", "/w", "2026-03-01T09:00:00Z"))
	writeSessionFile(t, codexDir, "r.jsonl", `{"timestamp":"2026-03-01T09:00:00Z","type":"session_meta","payload":{"id":"shared","timestamp":"2026-03-01T09:00:00Z","cwd":"/w"}}`+"\n")

	sources := []Source{
		{Adapter: NewClaudeAdapter(), Root: claudeDir},
		{Adapter: NewCodexAdapter(), Root: codexDir},
	}
	sessions, _, err := DiscoverAll(context.Background(), sources, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want two: same id under different tools never merges", len(sessions))
	}
}

func TestFindSessionUnionsFilesAcrossRoots(t *testing.T) {
	primary := t.TempDir()
	alt := t.TempDir()
	writeSessionFile(t, primary, "a.jsonl", claudeHeader("s1", "/w", "2026-03-01T09:00:00Z"))
	writeSessionFile(t, alt, "b.jsonl", claudeHeader("s1", "/w", "2026-03-01T10:00:00Z"))

	sources := []Source{
		{Adapter: NewClaudeAdapter(), Root: primary},
		{Adapter: NewClaudeAdapter(), Root: alt},
	}
	meta, _, found, err := FindSession(context.Background(), sources, "s1")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if len(meta.SourceFiles) != 2 {
		t.Fatalf("source files = %v, want both roots' files", meta.SourceFiles)
	}
}

func TestFindSessionAcrossSources(t *testing.T) {
	claudeDir := t.TempDir()
	codexDir := t.TempDir()
	writeSessionFile(t, claudeDir, "a.jsonl", claudeHeader("claude-1", "/w", "2026-03-01T09:00:00Z"))
	writeSessionFile(t, codexDir, "r.jsonl", `{"timestamp":"2026-03-01T09:00:00Z","type":"session_meta","payload":{"id":"codex-1","timestamp":"2026-03-01T09:00:00Z","cwd":"/w"}}`+"\n")

	sources := []Source{
		{Adapter: NewClaudeAdapter(), Root: claudeDir},
		{Adapter: NewCodexAdapter(), Root: codexDir},
	}

	meta, adapter, found, err := FindSession(context.Background(), sources, "codex-1")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if meta.Tool != "codex" || adapter.Tool() != "codex" {
		t.Fatalf("meta = %+v", meta)
	}

	_, _, found, err = FindSession(context.Background(), sources, "missing")
	if err != nil || found {
		t.Fatalf("missing session found=%v err=%v", found, err)
	}
}

func TestPathContains(t *testing.T) {
	cases := []struct {
		parent, child string
		want          bool
	}{
		{"/home/user/proj", "/home/user/proj", true},
		{"/home/user/proj", "/home/user/proj/sub/dir", true},
		{"/home/user/proj", "/home/user/proj2", false},
		{"/home/user/proj", "/home/user", false},
		{"/home/user", "/home/user/proj", true},
		{"", "/home/user", false},
		{"/home/user", "", false},
	}
	for _, tc := range cases {
		if got := PathContains(tc.parent, tc.child); got != tc.want {
			t.Errorf("PathContains(%q, %q) = %v, want %v", tc.parent, tc.child, got, tc.want)
		}
	}
}
