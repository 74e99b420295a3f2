// Package display renders pipeline output to a terminal, a server-sent event
// stream or a websocket.
package display

import (
	"encoding/base64"
	"net/http"

	"github.com/vbonduro/schema2tf/internal/pipeline"
	"github.com/vbonduro/schema2tf/internal/prompt"
)

// Frame types shared by the SSE and websocket sinks.
const (
	FrameStage    = "stage"
	FrameProgress = "progress"
	FrameImage    = "image"
	FrameDone     = "done"
	FrameError    = "error"
)

// Frame is one message pushed to a browser.
type Frame struct {
	Type    string       `json:"type"`
	Stage   prompt.Stage `json:"stage,omitempty"`
	Title   string       `json:"title,omitempty"`
	Text    string       `json:"text,omitempty"`
	Caption string       `json:"caption,omitempty"`
	Src     string       `json:"src,omitempty"`
	Error   string       `json:"error,omitempty"`
	Reports []ReportView `json:"reports,omitempty"`
}

// ReportView is the JSON form of a pipeline.Report. Unknown counts encode as
// null.
type ReportView struct {
	Stage        prompt.Stage `json:"stage"`
	InputTokens  *int         `json:"input_tokens"`
	OutputTokens *int         `json:"output_tokens"`
	TotalTokens  *int         `json:"total_tokens"`
	LatencyMs    *int64       `json:"latency_ms"`
	DurationMs   int64        `json:"duration_ms"`
}

func Reports(reports []pipeline.Report) []ReportView {
	views := make([]ReportView, 0, len(reports))
	for _, r := range reports {
		views = append(views, ReportView{
			Stage:        r.Stage,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			TotalTokens:  r.TotalTokens,
			LatencyMs:    r.LatencyMs,
			DurationMs:   r.Duration.Milliseconds(),
		})
	}
	return views
}

// StageTitle is the heading shown above a stage's output.
func StageTitle(stage prompt.Stage) string {
	switch stage {
	case prompt.StageDescribe:
		return "Schema Description"
	case prompt.StageConvert:
		return "Current Terraform Stack"
	case prompt.StageUpdate:
		return "Updated Terraform Stack"
	default:
		return string(stage)
	}
}

// dataURL inlines an image so a page can show it without another request.
func dataURL(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func imageFrame(data []byte, caption string) Frame {
	return Frame{Type: FrameImage, Caption: caption, Src: dataURL(data)}
}

func stageFrame(stage prompt.Stage) Frame {
	return Frame{Type: FrameStage, Stage: stage, Title: StageTitle(stage)}
}
