package logsource

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

// Source binds an adapter to the directory tree holding its transcripts.
type Source struct {
	Adapter Adapter
	Root    string
}

// Discover enumerates a source's transcript tree, extracts identity from
// each file's header without parsing bodies, filters to sessions whose
// working directory lives inside workspace (empty workspace keeps all), and
// merges files sharing a session id into one SessionMeta.
//
// A missing root yields an empty result, not an error; unreadable files are
// counted and skipped.
func Discover(ctx context.Context, src Source, workspace string) ([]core.SessionMeta, core.ScanStats, error) {
	var stats core.ScanStats
	byID := make(map[string]*core.SessionMeta)

	if _, err := os.Stat(src.Root); err != nil {
		return nil, stats, nil
	}

	walkErr := filepath.WalkDir(src.Root, func(path string, entry os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			stats.FileErrors++
			return nil
		}
		if entry.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		stats.Files++

		lines, readErr := readHeaderLines(path)
		if readErr != nil {
			stats.FileErrors++
			return nil
		}
		meta, ok := src.Adapter.ParseHeader(lines)
		if !ok {
			stats.SkippedFiles++
			return nil
		}
		if workspace != "" && !PathContains(workspace, meta.WorkingDirectory) {
			return nil
		}

		if existing, seen := byID[meta.ID]; seen {
			existing.SourceFiles = append(existing.SourceFiles, path)
			// Identity merge keeps the earliest createdAt across files.
			if !meta.CreatedAt.IsZero() && (existing.CreatedAt.IsZero() || meta.CreatedAt.Before(existing.CreatedAt)) {
				existing.CreatedAt = meta.CreatedAt
			}
			if existing.WorkingDirectory == "" {
				existing.WorkingDirectory = meta.WorkingDirectory
			}
			return nil
		}
		meta.SourceFiles = []string{path}
		byID[meta.ID] = &meta
		return nil
	})
	if walkErr != nil {
		return nil, stats, walkErr
	}

	sessions := make([]core.SessionMeta, 0, len(byID))
	for _, meta := range byID {
		sort.Strings(meta.SourceFiles)
		sessions = append(sessions, *meta)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, stats, nil
}

// DiscoverAll runs Discover over every source and merges sessions sharing a
// tool and id across sources into one SessionMeta with the union of files and
// the earliest createdAt. Two roots holding files of the same session, such
// as the primary and alternate Claude directories, yield a single entry.
func DiscoverAll(ctx context.Context, sources []Source, workspace string) ([]core.SessionMeta, core.ScanStats, error) {
	var stats core.ScanStats
	byKey := make(map[string]*core.SessionMeta)
	var order []string

	for _, src := range sources {
		sessions, srcStats, err := Discover(ctx, src, workspace)
		if err != nil {
			return nil, stats, err
		}
		stats.Merge(srcStats)
		for i := range sessions {
			meta := sessions[i]
			key := meta.Tool + "|" + meta.ID
			existing, seen := byKey[key]
			if !seen {
				byKey[key] = &meta
				order = append(order, key)
				continue
			}
			existing.SourceFiles = mergeSourceFiles(existing.SourceFiles, meta.SourceFiles)
			if !meta.CreatedAt.IsZero() && (existing.CreatedAt.IsZero() || meta.CreatedAt.Before(existing.CreatedAt)) {
				existing.CreatedAt = meta.CreatedAt
			}
			if existing.WorkingDirectory == "" {
				existing.WorkingDirectory = meta.WorkingDirectory
			}
		}
	}

	sessions := make([]core.SessionMeta, 0, len(order))
	for _, key := range order {
		sessions = append(sessions, *byKey[key])
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, stats, nil
}

func mergeSourceFiles(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, path := range append(append([]string{}, a...), b...) {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// FindSession locates one session by id across a set of sources. The
// returned meta carries every source file of the session, even when its
// files are split across roots.
func FindSession(ctx context.Context, sources []Source, id string) (core.SessionMeta, Adapter, bool, error) {
	sessions, _, err := DiscoverAll(ctx, sources, "")
	if err != nil {
		return core.SessionMeta{}, nil, false, err
	}
	for _, meta := range sessions {
		if meta.ID != id {
			continue
		}
		for _, src := range sources {
			if src.Adapter.Tool() == meta.Tool {
				return meta, src.Adapter, true, nil
			}
		}
	}
	return core.SessionMeta{}, nil, false, nil
}

// PathContains reports whether child equals parent or lives underneath it.
// Comparison is case-insensitive only where the host filesystem is
// (Windows, macOS).
func PathContains(parent, child string) bool {
	parent = normalizePath(parent)
	child = normalizePath(child)
	if parent == "" || child == "" {
		return false
	}
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)
	if caseInsensitiveFS() {
		path = strings.ToLower(path)
	}
	return path
}

func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}
