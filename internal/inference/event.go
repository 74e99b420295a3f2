package inference

// Event is one incremental unit of a model response: a ContentDelta or a
// Metadata record. Consumers ignore event types they do not recognise.
type Event interface {
	isEvent()
}

// ContentDelta carries the next fragment of generated text.
type ContentDelta struct {
	Text string
}

// Metadata is the summary record emitted at the end of a response. Either
// field may be absent, and so may any individual count inside Usage.
type Metadata struct {
	Usage   *Usage
	Metrics *Metrics
}

type Usage struct {
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
}

type Metrics struct {
	LatencyMs *int64
}

func (ContentDelta) isEvent() {}
func (Metadata) isEvent()     {}

// Int returns a pointer to n, for building Usage values.
func Int(n int) *int { return &n }

// Int64 returns a pointer to n, for building Metrics values.
func Int64(n int64) *int64 { return &n }
