package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"

	"github.com/vbonduro/schema2tf/internal/pipeline"
	"github.com/vbonduro/schema2tf/internal/prompt"
)

// Terminal streams stage output as plain text. Because a terminal cannot
// overwrite what it already printed, a new cumulative text that extends the
// previous one prints only the added suffix; anything else starts a new
// paragraph.
type Terminal struct {
	w       io.Writer
	printed string
	err     error
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) BeginStage(stage prompt.Stage) {
	t.endLine()
	t.printf("\n== %s ==\n", StageTitle(stage))
	t.printed = ""
}

func (t *Terminal) Show(text string) {
	if strings.HasPrefix(text, t.printed) {
		t.printf("%s", text[len(t.printed):])
	} else {
		t.endLine()
		t.printf("%s", text)
	}
	t.printed = text
}

func (t *Terminal) ShowImage(data []byte, caption string) {
	t.endLine()
	t.printf("[%s: %d bytes]\n", caption, len(data))
}

// Finish terminates the last line of output.
func (t *Terminal) Finish() {
	t.endLine()
}

func (t *Terminal) Err() error {
	return t.err
}

func (t *Terminal) endLine() {
	if t.printed != "" && !strings.HasSuffix(t.printed, "\n") {
		t.printf("\n")
	}
	t.printed = ""
}

func (t *Terminal) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Summary renders the session's results as markdown: the description, the
// stack and one line of usage per stage.
func Summary(st *pipeline.State) string {
	var sb strings.Builder
	if st.HasDescription() {
		fmt.Fprintf(&sb, "# %s\n\n%s\n\n", StageTitle(prompt.StageDescribe), st.Description())
	}
	if st.HasStack() {
		fmt.Fprintf(&sb, "# %s\n\n%s\n\n", StageTitle(prompt.StageConvert), st.Stack())
	}
	if len(st.Reports) > 0 {
		sb.WriteString("| stage | input tokens | output tokens | total tokens | latency |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, r := range st.Reports {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				r.Stage, count(r.InputTokens), count(r.OutputTokens), count(r.TotalTokens), latency(r.LatencyMs))
		}
	}
	return sb.String()
}

// RenderMarkdown styles md for a terminal. The plain markdown is returned if
// styling fails.
func RenderMarkdown(md string) string {
	styled, err := glamour.Render(md, "dark")
	if err != nil {
		return md
	}
	return styled
}

func count(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *v)
}

func latency(v *int64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d ms", *v)
}
