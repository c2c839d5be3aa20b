// Package wsbridge adapts the C14 preview.Broadcaster onto WebSocket
// connections, translating workflow.Delta envelopes into the live-preview
// stream's discriminated message shapes. Grounded on the hand-rolled
// gorilla/websocket hub pattern in the pack's tarsy reference
// (other_examples/codeready-toolchain-tarsy/pkg/api/websocket.go):
// one goroutine reads (for ping/close), one writes (fed by the
// broadcaster's subscription channel), per connection.
package wsbridge

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawercase/petition-orchestrator/internal/preview"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message is the live-preview stream's wire envelope: a discriminator
// field plus whichever payload fields that type carries.
type Message struct {
	Type       string          `json:"type"`
	State      *workflow.State `json:"state,omitempty"`
	SectionID  string          `json:"section_id,omitempty"`
	Section    *workflow.Section `json:"section,omitempty"`
	Delta      any             `json:"delta,omitempty"`
	Log        *workflow.LogEntry `json:"log,omitempty"`
	Status     workflow.Status `json:"status,omitempty"`
	Completed  int             `json:"completed,omitempty"`
	Total      int             `json:"total,omitempty"`
	Percentage float64         `json:"percentage,omitempty"`
	Text       string          `json:"message,omitempty"`
}

// ThreadIDFromRequest extracts the thread to subscribe to from a request;
// Handler uses it on every upgrade.
type ThreadIDFromRequest func(r *http.Request) string

// Handler upgrades HTTP connections to WebSocket and streams one thread's
// preview to each client.
type Handler struct {
	broadcaster *preview.Broadcaster
	threadID    ThreadIDFromRequest
	upgrader    websocket.Upgrader
	log         telemetry.Logger
}

// New builds a Handler. threadID extracts the subscribed thread from each
// incoming request (typically a path parameter or query string value).
func New(broadcaster *preview.Broadcaster, threadID ThreadIDFromRequest, log telemetry.Logger) *Handler {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Handler{
		broadcaster: broadcaster,
		threadID:    threadID,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection, subscribes to the thread's deltas,
// and runs the read and write pumps until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := h.threadID(r)
	if threadID == "" {
		http.Error(w, "thread_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "wsbridge: upgrade failed", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	sub := h.broadcaster.Subscribe(ctx, threadID)
	defer func() {
		cancel()
		sub.Close()
		_ = conn.Close()
	}()

	_ = conn.WriteJSON(Message{Type: "connected"})

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, sub, cancel)
}

// readPump drains client frames, replying to "ping" with "pong" and
// cancelling ctx (ending the write pump) on any read error or close.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in map[string]any
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		if t, _ := in["type"].(string); t == "ping" {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(Message{Type: "pong"}); err != nil {
				return
			}
		}
	}
}

// writePump translates each subscription envelope into a live-preview
// message and writes it, sending periodic WebSocket control pings to
// keep intermediaries from closing an idle connection.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sub preview.Subscription, cancel context.CancelFunc) {
	defer cancel()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if env.SlowConsumer {
				_ = conn.WriteJSON(Message{Type: "error", Text: "slow_consumer"})
				return
			}
			if err := conn.WriteJSON(translate(env)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// translate maps one broadcaster envelope to the discriminated wire
// shape the spec's live-preview stream defines.
func translate(env preview.Envelope) Message {
	d := env.Delta
	switch d.Kind {
	case "full":
		return Message{Type: "initial_state", State: &d.State}
	case "section_update":
		var sec workflow.Section
		for _, s := range d.State.Sections {
			if s.Status != "" {
				sec = s
			}
		}
		return Message{Type: "section_update", SectionID: sec.SectionID, Section: &sec, Delta: d}
	case "log_added":
		var entry workflow.LogEntry
		if n := len(d.State.Logs); n > 0 {
			entry = d.State.Logs[n-1]
		}
		return Message{Type: "log_entry", Log: &entry}
	case "status_changed":
		return Message{Type: "status_change", Status: d.State.Status}
	case "exhibit_added":
		completed, total := sectionProgress(d.State)
		return Message{Type: "progress_update", Completed: completed, Total: total, Percentage: percentage(completed, total)}
	default:
		return Message{Type: "workflow_update", Delta: d}
	}
}

func sectionProgress(state workflow.State) (completed, total int) {
	total = len(state.Sections)
	for _, s := range state.Sections {
		if s.Status == workflow.SectionCompleted {
			completed++
		}
	}
	return completed, total
}

func percentage(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}
