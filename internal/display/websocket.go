package display

import (
	"github.com/gorilla/websocket"

	"github.com/vbonduro/schema2tf/internal/prompt"
)

// frameWriter is satisfied by *websocket.Conn.
type frameWriter interface {
	WriteJSON(v any) error
}

// WSSink sends each frame as a JSON text message. It must only be used from
// one goroutine at a time, as gorilla/websocket allows a single writer.
type WSSink struct {
	conn  frameWriter
	stage prompt.Stage
	err   error
}

func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

func (s *WSSink) BeginStage(stage prompt.Stage) {
	s.stage = stage
	s.send(stageFrame(stage))
}

func (s *WSSink) Show(text string) {
	s.send(Frame{Type: FrameProgress, Stage: s.stage, Text: text})
}

func (s *WSSink) ShowImage(data []byte, caption string) {
	s.send(imageFrame(data, caption))
}

func (s *WSSink) Done(reports []ReportView) {
	s.send(Frame{Type: FrameDone, Reports: reports})
}

func (s *WSSink) Fail(msg string) {
	s.send(Frame{Type: FrameError, Stage: s.stage, Error: msg})
}

// Err returns the first write error. A failed connection stays failed, so
// callers stop serving the socket once this is non-nil.
func (s *WSSink) Err() error {
	return s.err
}

// Reset clears the stage so the next action starts fresh. The write error is
// kept.
func (s *WSSink) Reset() {
	s.stage = ""
}

func (s *WSSink) send(f Frame) {
	if s.err != nil {
		return
	}
	s.err = s.conn.WriteJSON(f)
}
