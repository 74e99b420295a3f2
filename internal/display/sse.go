package display

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vbonduro/schema2tf/internal/prompt"
)

// SSESink writes frames as server-sent events: the event name is the frame
// type and the data line is the frame as JSON. The first write error is kept
// and later writes are dropped.
type SSESink struct {
	w       io.Writer
	flusher http.Flusher
	stage   prompt.Stage
	err     error
}

// NewSSESink sets the event-stream headers on w. They must be set before
// anything else is written.
func NewSSESink(w http.ResponseWriter) *SSESink {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)
	return &SSESink{w: w, flusher: flusher}
}

func (s *SSESink) BeginStage(stage prompt.Stage) {
	s.stage = stage
	s.send(stageFrame(stage))
}

func (s *SSESink) Show(text string) {
	s.send(Frame{Type: FrameProgress, Stage: s.stage, Text: text})
}

func (s *SSESink) ShowImage(data []byte, caption string) {
	s.send(imageFrame(data, caption))
}

// Done ends the stream successfully.
func (s *SSESink) Done(reports []ReportView) {
	s.send(Frame{Type: FrameDone, Reports: reports})
}

// Fail ends the stream with a message for the user.
func (s *SSESink) Fail(msg string) {
	s.send(Frame{Type: FrameError, Stage: s.stage, Error: msg})
}

// Err returns the first write error, if any.
func (s *SSESink) Err() error {
	return s.err
}

func (s *SSESink) send(f Frame) {
	if s.err != nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		s.err = fmt.Errorf("failed to encode %s event: %w", f.Type, err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", f.Type, data); err != nil {
		s.err = err
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
