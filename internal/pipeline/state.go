package pipeline

import (
	"time"

	"github.com/vbonduro/schema2tf/internal/prompt"
)

// State is everything remembered about one user session. SchemaDescription
// and GeneratedStack are nil until their stage has run; an empty string counts
// as not yet run.
type State struct {
	ID                string
	CreatedAt         time.Time
	Image             []byte
	SchemaDescription *string
	GeneratedStack    *string
	Reports           []Report
}

// Report records what the model said about one completed stage. Counts the
// service did not report are nil.
type Report struct {
	Stage        prompt.Stage
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
	LatencyMs    *int64
	Duration     time.Duration
}

func NewState(id string, image []byte) *State {
	return &State{ID: id, CreatedAt: time.Now(), Image: image}
}

func (s *State) HasDescription() bool {
	return s.SchemaDescription != nil && *s.SchemaDescription != ""
}

func (s *State) HasStack() bool {
	return s.GeneratedStack != nil && *s.GeneratedStack != ""
}

// Description returns the stored description or "".
func (s *State) Description() string {
	if s.SchemaDescription == nil {
		return ""
	}
	return *s.SchemaDescription
}

// Stack returns the stored stack or "".
func (s *State) Stack() string {
	if s.GeneratedStack == nil {
		return ""
	}
	return *s.GeneratedStack
}

// Clone returns a copy safe to read after the session lock is released.
func (s *State) Clone() *State {
	c := *s
	c.Reports = append([]Report(nil), s.Reports...)
	if s.SchemaDescription != nil {
		d := *s.SchemaDescription
		c.SchemaDescription = &d
	}
	if s.GeneratedStack != nil {
		g := *s.GeneratedStack
		c.GeneratedStack = &g
	}
	return &c
}
