package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Response headers announcing the serving candidate.
const (
	HeaderProvider  = "X-Chat-Provider"
	HeaderModel     = "X-Chat-Model"
	HeaderRequestID = "X-Request-Id"
)

const wsWriteWait = 10 * time.Second

// httpStream streams plain text over a chunked HTTP response.
type httpStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newHTTPStream(w http.ResponseWriter) *httpStream {
	flusher, _ := w.(http.Flusher)
	return &httpStream{w: w, flusher: flusher}
}

// Start sends the response headers.
func (s *httpStream) Start(meta ResponseMeta) (ResponseStream, error) {
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set(HeaderProvider, meta.Provider)
	h.Set(HeaderModel, meta.Model)
	if meta.RequestID != "" {
		h.Set(HeaderRequestID, meta.RequestID)
	}
	s.w.WriteHeader(http.StatusOK)
	s.started = true
	s.flush()
	return s, nil
}

func (s *httpStream) Write(text string) error {
	if _, err := s.w.Write([]byte(text)); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *httpStream) Notice(message string) error {
	return s.Write("\n\n[" + message + "]")
}

func (s *httpStream) Close() error {
	s.flush()
	return nil
}

func (s *httpStream) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// wsStream sends typed frames over a WebSocket connection.
type wsStream struct {
	mu   sync.Mutex
	conn *websocket.Conn
	id   string
}

func newWSStream(conn *websocket.Conn, requestID string) *wsStream {
	return &wsStream{conn: conn, id: requestID}
}

func (s *wsStream) send(frame wsFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(frame)
}

// Start announces the serving candidate.
func (s *wsStream) Start(meta ResponseMeta) (ResponseStream, error) {
	if err := s.send(wsFrame{Type: "meta", ID: s.id, Provider: meta.Provider, Model: meta.Model}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *wsStream) Write(text string) error {
	return s.send(wsFrame{Type: "delta", Text: text})
}

func (s *wsStream) Notice(message string) error {
	return s.send(wsFrame{Type: "notice", Text: message})
}

func (s *wsStream) Close() error {
	return s.send(wsFrame{Type: "done", ID: s.id})
}

func (s *wsStream) fail(chatErr *ChatError) error {
	return s.send(wsFrame{Type: "error", ID: s.id, Code: chatErr.Code, Text: chatErr.Message, Attempts: chatErr.Attempts})
}
