package ipc

import (
	"encoding/binary"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/holee9/hnvue/internal/imaging"
)

// imageChunkPixels bounds how many pixels ride in one websocket frame,
// keeping individual writes small enough not to stall a slow client
// for more than a few milliseconds.
const imageChunkPixels = 16384

// ImageChunk is one websocket frame of a published image: metadata
// rides on the first chunk only, matching pb.ImageChunk's
// {seq, metadata-on-first-chunk, payload, is_last} shape.
type ImageChunk struct {
	StudyID string `json:"study_id"`
	Seq     uint64 `json:"seq"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Payload []byte `json:"payload"`
	IsLast  bool   `json:"is_last"`
}

type imageStreamClient struct {
	studyID string
	conn    *websocket.Conn
	send    chan ImageChunk
}

// ImageStreamHub fans out published frames to every websocket client
// subscribed to a study. Grounded on the teacher's
// internal/websocket.DAGStreamer hub (register/unregister channels,
// per-client send queue, broadcast-under-RLock), narrowed here to
// per-study subscriber groups instead of one global broadcast set.
type ImageStreamHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*imageStreamClient]bool

	upgrader websocket.Upgrader
}

// NewImageStreamHub constructs an empty hub.
func NewImageStreamHub() *ImageStreamHub {
	return &ImageStreamHub{
		subscribers: make(map[string]map[*imageStreamClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the connection and subscribes it to the
// study named by the study_id query parameter.
func (h *ImageStreamHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	studyID := r.URL.Query().Get("study_id")
	if studyID == "" {
		http.Error(w, "study_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ipc: image stream upgrade failed", "error", err)
		return
	}

	client := &imageStreamClient{studyID: studyID, conn: conn, send: make(chan ImageChunk, 64)}
	h.register(client)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *ImageStreamHub) register(c *imageStreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[c.studyID] == nil {
		h.subscribers[c.studyID] = make(map[*imageStreamClient]bool)
	}
	h.subscribers[c.studyID][c] = true
}

func (h *ImageStreamHub) unregister(c *imageStreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.subscribers[c.studyID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.subscribers, c.studyID)
		}
	}
	close(c.send)
	c.conn.Close()
}

func (h *ImageStreamHub) writePump(c *imageStreamClient) {
	for chunk := range c.send {
		if err := c.conn.WriteJSON(chunk); err != nil {
			slog.Warn("ipc: image stream write failed", "error", err, "study_id", c.studyID)
			h.unregister(c)
			return
		}
	}
}

func (h *ImageStreamHub) readPump(c *imageStreamClient) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish chunks frame's pixel buffer and broadcasts it to every
// client subscribed to studyID. A client whose send queue is full is
// dropped rather than allowed to back-pressure the acquisition path.
func (h *ImageStreamHub) Publish(studyID string, frame imaging.Frame) {
	payload := encodeFramePixels(frame)

	h.mu.RLock()
	clients := make([]*imageStreamClient, 0, len(h.subscribers[studyID]))
	for c := range h.subscribers[studyID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	var seq uint64
	for offset := 0; offset < len(payload); offset += imageChunkPixels * 2 {
		end := offset + imageChunkPixels*2
		if end > len(payload) {
			end = len(payload)
		}
		chunk := ImageChunk{
			StudyID: studyID,
			Seq:     seq,
			Payload: payload[offset:end],
			IsLast:  end == len(payload),
		}
		if seq == 0 {
			chunk.Width = frame.Width
			chunk.Height = frame.Height
		}
		seq++

		for _, c := range clients {
			select {
			case c.send <- chunk:
			default:
				slog.Warn("ipc: image stream client too slow, dropping", "study_id", studyID)
			}
		}
	}
}

// encodeFramePixels serializes a frame's pixel buffer as little-endian
// uint16s, the same on-wire layout the detector plugin ABI hands to
// the imaging pipeline.
func encodeFramePixels(frame imaging.Frame) []byte {
	buf := make([]byte, len(frame.Pixels)*2)
	for i, px := range frame.Pixels {
		binary.LittleEndian.PutUint16(buf[i*2:], px)
	}
	return buf
}
