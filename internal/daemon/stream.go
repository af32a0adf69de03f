package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janekbaraniewski/sessionlens/internal/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon binds to loopback only; browser dashboards on other ports
	// still need to connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

type scanFrame struct {
	Stage  string         `json:"stage"`
	Detail string         `json:"detail,omitempty"`
	Stats  core.ScanStats `json:"stats"`
	Usage  any            `json:"usage,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// handleScanStream runs a full usage scan and streams per-file progress
// frames over a websocket, ending with a frame carrying the usage total.
// Closing the socket cancels the scan through the request context.
func (s *Service) handleScanStream(w http.ResponseWriter, r *http.Request) {
	metricHTTPRequests.WithLabelValues("scan_stream").Inc()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.warnf("scan_stream_upgrade_error", "error=%v", err)
		return
	}
	defer conn.Close()
	s.infof("scan_stream_open", "remote=%s", conn.RemoteAddr())

	// Progress callbacks arrive from the scan goroutine only, so frames are
	// written without extra locking.
	writeFrame := func(frame scanFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(frame) == nil
	}

	ctx := r.Context()
	agg := s.aggregator(func(stage, detail string, stats core.ScanStats) {
		if stage == "done" {
			return
		}
		writeFrame(scanFrame{Stage: stage, Detail: detail, Stats: stats})
	})

	total, stats, err := agg.TotalUsage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			writeFrame(scanFrame{Stage: "error", Stats: stats, Error: err.Error()})
		}
		return
	}
	observeScan(stats)
	writeFrame(scanFrame{Stage: "done", Stats: stats, Usage: total})
	s.infof("scan_stream_done", "files=%d events=%d", stats.Files, stats.Events)
}
