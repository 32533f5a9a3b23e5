package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/chatrelay/internal/apierrors"
)

func TestNonStreamResponseShape(t *testing.T) {
	resp := NonStreamResponse("chatcmpl-1", "m-text", "hello")
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}

func TestNewSSEWriterRejectsNonFlusher(t *testing.T) {
	rec := &nonFlushingWriter{header: make(http.Header)}
	_, err := NewSSEWriter(rec, KeepaliveComment)
	assert.Error(t, err)
}

func TestWriteContentThenTerminalProducesDoneFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewSSEWriter(rec, KeepaliveComment)
	require.NoError(t, err)

	sw.WriteContent("chatcmpl-1", "m-text", "partial text")
	assert.False(t, sw.Ended())

	sw.WriteTerminal("chatcmpl-1", "m-text")
	assert.True(t, sw.Ended())

	body := rec.Body.String()
	assert.Contains(t, body, "partial text")
	assert.Contains(t, body, "data: [DONE]")
}

func TestWriteAfterEndedIsNoOp(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewSSEWriter(rec, KeepaliveComment)
	require.NoError(t, err)

	sw.WriteTerminal("chatcmpl-1", "m-text")
	lenAfterTerminal := rec.Body.Len()

	sw.WriteContent("chatcmpl-1", "m-text", "too late")
	assert.Equal(t, lenAfterTerminal, rec.Body.Len(), "no frame should be written once ended")
}

func TestWriteErrorEndsStream(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewSSEWriter(rec, KeepaliveComment)
	require.NoError(t, err)

	sw.WriteError(apierrors.New(apierrors.CodeGenerationFailed, "boom"))

	assert.True(t, sw.Ended())
	assert.Contains(t, rec.Body.String(), "boom")
}

func TestHeartbeatCommentModeWritesKeepaliveLine(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewSSEWriter(rec, KeepaliveComment)
	require.NoError(t, err)

	done := make(chan struct{})
	sw.StartHeartbeat(20*time.Millisecond, done)
	time.Sleep(60 * time.Millisecond)
	close(done)

	assert.True(t, strings.Contains(rec.Body.String(), ":keepalive"))
}

func TestHeartbeatStopsAfterEnded(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := NewSSEWriter(rec, KeepaliveComment)
	require.NoError(t, err)

	done := make(chan struct{})
	defer close(done)
	sw.StartHeartbeat(10*time.Millisecond, done)

	sw.WriteTerminal("chatcmpl-1", "m-text")
	lenAfterEnd := rec.Body.Len()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, lenAfterEnd, rec.Body.Len(), "heartbeat must not write after the stream ended")
}

// nonFlushingWriter is a minimal http.ResponseWriter that deliberately does
// not implement http.Flusher, exercising NewSSEWriter's capability check.
type nonFlushingWriter struct {
	header http.Header
	status int
	body   []byte
}

func (w *nonFlushingWriter) Header() http.Header { return w.header }
func (w *nonFlushingWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return len(b), nil
}
func (w *nonFlushingWriter) WriteHeader(status int) { w.status = status }
