package push

import (
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-contrib/sse"
)

// SSESink writes events as text/event-stream frames. The HTTP handler that
// owns w must stay inside its handler until Closed fires and then call
// Connection.Drain before returning.
type SSESink struct {
	w       io.Writer
	flusher http.Flusher

	once   sync.Once
	closed chan struct{}
}

func NewSSESink(w http.ResponseWriter) *SSESink {
	f, _ := w.(http.Flusher)
	return &SSESink{w: w, flusher: f, closed: make(chan struct{})}
}

// WriteHeaders sets the event-stream response headers.
func WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (s *SSESink) Send(ev Event) error {
	if s.isClosed() {
		return errConnClosed
	}
	err := sse.Encode(s.w, sse.Event{
		Id:    strconv.FormatUint(ev.Sequence, 10),
		Event: ev.Kind,
		Data:  ev.Data,
	})
	if err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSESink) Ping() error {
	if s.isClosed() {
		return errConnClosed
	}
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSESink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed fires once the registry has let go of this stream.
func (s *SSESink) Closed() <-chan struct{} { return s.closed }

func (s *SSESink) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *SSESink) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
