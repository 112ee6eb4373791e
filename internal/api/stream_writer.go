package api

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// SSEStreamWriter writes the events of one streaming chat:
//
//	chat.started, chat.token..., chat.sentence..., chat.completed | chat.failed
//
// followed by a terminating "data: [DONE]" line.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	id      string
	seq     int
}

func NewSSEStreamWriter(c *echo.Context, id string) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	return &SSEStreamWriter{
		w:       res,
		flusher: flusher.Flush,
		id:      id,
		seq:     1,
	}, nil
}

func (s *SSEStreamWriter) Begin() error {
	return s.emit(StreamEvent{Type: "chat.started"})
}

func (s *SSEStreamWriter) Token(delta string) error {
	return s.emit(StreamEvent{Type: "chat.token", Delta: delta})
}

func (s *SSEStreamWriter) Sentence(sentence string) error {
	return s.emit(StreamEvent{Type: "chat.sentence", Sentence: sentence})
}

func (s *SSEStreamWriter) Complete(resp *ChatResponse) error {
	return s.emit(StreamEvent{Type: "chat.completed", Response: resp})
}

func (s *SSEStreamWriter) Failed(err error) error {
	return s.emit(StreamEvent{Type: "chat.failed", Error: apiError(err)})
}

func (s *SSEStreamWriter) Done() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEStreamWriter) emit(event StreamEvent) error {
	event.ID = s.id
	event.Seq = s.seq
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flush()
	s.seq++
	return nil
}

func (s *SSEStreamWriter) flush() {
	if s.flusher != nil {
		s.flusher()
	}
}
