package ipc

import (
	"log/slog"
	"time"

	socketio "github.com/googollee/go-socket.io"

	"github.com/holee9/hnvue/internal/workflow"
)

// HealthStreamHub republishes internal workflow.EventBus events onto a
// go-socket.io namespace so operator UIs get heartbeat/status/fault/
// state-change ticks without polling the command interface. Grounded
// on cmd/probe/main.go's setupSocketServer + BroadcastToNamespace
// pattern — OnConnect/OnDisconnect registered against namespace "/",
// and one broadcast call per outbound event.
type HealthStreamHub struct {
	server *socketio.Server
	bus    *workflow.EventBus
	stop   chan struct{}
}

// NewHealthStreamHub wires a fresh socketio.Server to bus and starts
// relaying events immediately; call Close to stop.
func NewHealthStreamHub(bus *workflow.EventBus) (*HealthStreamHub, error) {
	server := socketio.NewServer(nil)

	server.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext("")
		slog.Info("ipc: health stream client connected", "id", s.ID())
		return nil
	})
	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		slog.Info("ipc: health stream client disconnected", "id", s.ID(), "reason", reason)
	})
	server.OnError("/", func(s socketio.Conn, err error) {
		slog.Warn("ipc: health stream connection error", "error", err)
	})

	h := &HealthStreamHub{server: server, bus: bus, stop: make(chan struct{})}

	sub := bus.Subscribe(workflow.Filter{})
	go h.relay(sub)
	go h.heartbeat()

	return h, nil
}

// Handler returns the http.Handler to mount at /socket.io/.
func (h *HealthStreamHub) Handler() *socketio.Server { return h.server }

// Serve runs the socket.io server's internal event loop; call it in a
// goroutine before mounting Handler behind an HTTP server.
func (h *HealthStreamHub) Serve() error {
	return h.server.Serve()
}

// Close stops relaying and shuts down the socket.io server.
func (h *HealthStreamHub) Close() error {
	close(h.stop)
	return h.server.Close()
}

func (h *HealthStreamHub) relay(sub *workflow.Subscription) {
	for {
		select {
		case <-h.stop:
			sub.Unsubscribe()
			return
		case ev, ok := <-sub.Chan:
			if !ok {
				return
			}
			h.server.BroadcastToNamespace("/", eventKind(ev.Type), wireEvent(ev))
		}
	}
}

// heartbeat emits a liveness tick every 2 seconds so a connected
// client can detect a stalled console even when no workflow event
// fires.
func (h *HealthStreamHub) heartbeat() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.server.BroadcastToNamespace("/", "heartbeat", map[string]any{"at": time.Now()})
		}
	}
}

// eventKind maps a workflow.EventType to the socket.io event name
// operator UIs subscribe to.
func eventKind(t workflow.EventType) string {
	switch t {
	case workflow.EventInterlockViolation, workflow.EventDoseThresholdExceeded:
		return "fault"
	case workflow.EventStateChanged:
		return "state_change"
	default:
		return "status"
	}
}

func wireEvent(ev *workflow.Event) map[string]any {
	return map[string]any{
		"type":      string(ev.Type),
		"from":      ev.From.String(),
		"to":        ev.To.String(),
		"trigger":   string(ev.Trigger),
		"timestamp": ev.Timestamp,
		"sequence":  ev.Sequence,
		"data":      ev.Data,
	}
}
