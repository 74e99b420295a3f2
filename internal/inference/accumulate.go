package inference

import (
	"errors"
	"io"
	"strings"
)

// Result is the outcome of draining a stream. Token counts and latency are nil
// when the service did not report them.
type Result struct {
	Text         string
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
	LatencyMs    *int64
}

// Accumulate drains stream, concatenating text deltas in order. After every
// delta onProgress (if non-nil) receives the full text so far, so a display
// can overwrite what it showed before. When several metadata records arrive
// the last one wins.
//
// If the stream fails part-way the partial result is returned together with
// the error.
func Accumulate(stream Stream, onProgress func(text string)) (*Result, error) {
	var (
		sb  strings.Builder
		res Result
	)
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Text = sb.String()
			return &res, err
		}

		switch e := ev.(type) {
		case ContentDelta:
			sb.WriteString(e.Text)
			if onProgress != nil {
				onProgress(sb.String())
			}
		case Metadata:
			if e.Usage != nil {
				res.InputTokens = e.Usage.InputTokens
				res.OutputTokens = e.Usage.OutputTokens
				res.TotalTokens = e.Usage.TotalTokens
			}
			if e.Metrics != nil {
				res.LatencyMs = e.Metrics.LatencyMs
			}
		}
	}
	res.Text = sb.String()
	return &res, nil
}
