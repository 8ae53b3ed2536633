package ipc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holee9/hnvue/internal/imaging"
)

func newImageStreamTestServer(hub *ImageStreamHub) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/image-stream", hub.HandleWebSocket)
	return httptest.NewServer(mux)
}

func dialImageStream(t *testing.T, server *httptest.Server, studyID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/image-stream?study_id=" + studyID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestImageStreamDeliversChunkedFrameToSubscriber(t *testing.T) {
	hub := NewImageStreamHub()
	server := newImageStreamTestServer(hub)
	defer server.Close()

	conn := dialImageStream(t, server, "study-1")
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // allow registration to land

	frame := imaging.Frame{Width: 4, Height: 4, Stride: 4, Pixels: make([]uint16, 16)}
	for i := range frame.Pixels {
		frame.Pixels[i] = uint16(i)
	}
	hub.Publish("study-1", frame)

	var first ImageChunk
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, uint64(0), first.Seq)
	assert.Equal(t, 4, first.Width)
	assert.Equal(t, 4, first.Height)
	assert.True(t, first.IsLast) // small frame fits in one chunk
}

func TestImageStreamDoesNotDeliverToOtherStudySubscribers(t *testing.T) {
	hub := NewImageStreamHub()
	server := newImageStreamTestServer(hub)
	defer server.Close()

	conn := dialImageStream(t, server, "study-A")
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	frame := imaging.Frame{Width: 2, Height: 2, Stride: 2, Pixels: []uint16{1, 2, 3, 4}}
	hub.Publish("study-B", frame)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	var chunk ImageChunk
	err := conn.ReadJSON(&chunk)
	assert.Error(t, err) // read should time out: nothing was published for study-A
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	hub := NewImageStreamHub()
	frame := imaging.Frame{Width: 2, Height: 2, Stride: 2, Pixels: []uint16{1, 2, 3, 4}}
	assert.NotPanics(t, func() { hub.Publish("no-subscribers", frame) })
}
