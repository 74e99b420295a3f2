package inference

import "io"

// Stream is a finite, pull-based sequence of events. Recv returns io.EOF once
// the sequence is exhausted and keeps returning it afterwards; a stream cannot
// be replayed. Close releases the underlying connection and is safe to call
// more than once.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// StaticStream replays a fixed list of events, optionally ending with an
// error instead of io.EOF.
type StaticStream struct {
	events []Event
	err    error
	pos    int
	closed bool
}

// NewStaticStream returns a stream that yields events in order.
func NewStaticStream(events ...Event) *StaticStream {
	return &StaticStream{events: events}
}

// FailAfter makes the stream return err once its events are exhausted.
func (s *StaticStream) FailAfter(err error) *StaticStream {
	s.err = err
	return s
}

func (s *StaticStream) Recv() (Event, error) {
	if s.closed {
		return nil, io.EOF
	}
	if s.pos >= len(s.events) {
		if s.err != nil {
			err := s.err
			s.err = nil
			return nil, err
		}
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *StaticStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *StaticStream) Closed() bool {
	return s.closed
}
