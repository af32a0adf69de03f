// Package logsource turns the transcript logs written by external coding
// assistants into canonical event streams. Each tool gets one Adapter; the
// shared scanner, header reader, and discovery logic live here too.
//
// Transcripts are owned by the external tools. Everything in this package is
// strictly read-only.
package logsource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

const (
	// Transcript lines can embed whole file contents; cap a single line at
	// 10MB like the tools themselves do.
	maxLineSize       = 10 * 1024 * 1024
	initialLineBuffer = 256 * 1024

	// Header extraction only ever looks at the top of a file.
	maxHeaderLines = 25

	// How often a streaming scan checks for caller cancellation.
	cancelCheckInterval = 512
)

// EmitFunc receives each canonical event as it is parsed. Returning an error
// aborts the scan and propagates to the caller.
type EmitFunc func(core.CanonicalEvent) error

// Adapter parses one tool's transcript schema.
//
// ParseHeader extracts session identity from the first lines of a file
// without parsing the body; it reports false on malformed or foreign input
// instead of failing. ScanEvents streams a file's canonical events in line
// order, skipping unparsable lines individually. A fresh call starts from a
// fresh per-file state, so multi-file sessions are scanned one file at a
// time.
type Adapter interface {
	Tool() string
	ParseHeader(lines [][]byte) (core.SessionMeta, bool)
	ScanEvents(ctx context.Context, r io.Reader, emit EmitFunc) (core.ScanStats, error)
}

// scanLines feeds each non-empty line of r to fn, tolerating a UTF-8 BOM on
// the first line and checking ctx periodically so an aborted caller stops
// promptly mid-file.
func scanLines(ctx context.Context, r io.Reader, fn func(line []byte) error) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)

	lines := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if lines == 0 {
			line = bytes.TrimPrefix(line, []byte{0xEF, 0xBB, 0xBF})
		}
		lines++
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return lines, err
		}
		if lines%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return lines, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("scanning lines: %w", err)
	}
	return lines, nil
}

// readHeaderLines returns up to maxHeaderLines raw lines from the top of a
// file for cheap identity extraction.
func readHeaderLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)

	var lines [][]byte
	for scanner.Scan() && len(lines) < maxHeaderLines {
		line := scanner.Bytes()
		if len(lines) == 0 {
			line = bytes.TrimPrefix(line, []byte{0xEF, 0xBB, 0xBF})
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	// A scanner error here usually means a first line beyond the cap; treat
	// whatever was collected as the header.
	return lines, nil
}

// ScanSession streams every source file of a session through the adapter in
// order. File I/O errors are non-fatal: the file is skipped, counted, and
// the scan continues. Only cancellation aborts the whole scan.
func ScanSession(ctx context.Context, adapter Adapter, meta core.SessionMeta, emit EmitFunc) (core.ScanStats, error) {
	var stats core.ScanStats
	for _, path := range meta.SourceFiles {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		f, err := os.Open(path)
		if err != nil {
			stats.FileErrors++
			continue
		}
		fileStats, err := adapter.ScanEvents(ctx, f, emit)
		_ = f.Close()
		stats.Files++
		stats.Merge(fileStats)
		if err != nil {
			if ctx.Err() != nil {
				return stats, err
			}
			stats.FileErrors++
		}
	}
	return stats, nil
}

// CollectSession scans a session and returns its events sorted by timestamp.
// Transcript timestamps are not monotonic within a file; sorting here is the
// single place that restores order for the derived views. Events without a
// parseable timestamp keep their relative position at the front.
func CollectSession(ctx context.Context, adapter Adapter, meta core.SessionMeta) ([]core.CanonicalEvent, core.ScanStats, error) {
	var events []core.CanonicalEvent
	stats, err := ScanSession(ctx, adapter, meta, func(ev core.CanonicalEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, stats, nil
}

// parseTimestamp accepts the timestamp layouts seen across both tools.
func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
