package web_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/vbonduro/schema2tf/internal/display"
	"github.com/vbonduro/schema2tf/internal/inference"
	"github.com/vbonduro/schema2tf/internal/pipeline"
	"github.com/vbonduro/schema2tf/internal/prompt"
	"github.com/vbonduro/schema2tf/internal/session"
	"github.com/vbonduro/schema2tf/internal/web"
	"github.com/vbonduro/schema2tf/internal/web/templates"
)

// minimalPNG is 512 bytes with the PNG signature followed by zeros.
// http.DetectContentType identifies PNG from the leading signature.
var minimalPNG = func() []byte {
	b := make([]byte, 512)
	copy(b, "\x89PNG\r\n\x1a\n")
	return b
}()

var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

const (
	description = "An AWS Lambda function triggered by an S3 bucket."
	stackAnswer = "Here is the stack:\n```hcl\nresource \"aws_s3_bucket\" \"b\" {\nbucket = \"x\"\n}\n```"
	updated     = "```hcl\nresource \"aws_s3_bucket\" \"b\" {\nbucket = \"y\"\n}\n\nresource \"aws_vpc\" \"main\" {\ncidr_block = \"10.0.0.0/16\"\n}\n```"
)

// scriptedBackend answers each call with the next scripted reply and records
// the requests it received.
type scriptedBackend struct {
	mu       sync.Mutex
	replies  []string
	requests []*inference.Request
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) ConverseStream(_ context.Context, req *inference.Request) (inference.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if len(b.replies) == 0 {
		return nil, &inference.Error{Kind: inference.KindThrottled, Code: "ThrottlingException", Message: "slow down"}
	}
	reply := b.replies[0]
	b.replies = b.replies[1:]

	half := len(reply) / 2
	return inference.NewStaticStream(
		inference.ContentDelta{Text: reply[:half]},
		inference.ContentDelta{Text: reply[half:]},
		inference.Metadata{
			Usage:   &inference.Usage{InputTokens: inference.Int(10), OutputTokens: inference.Int(32), TotalTokens: inference.Int(42)},
			Metrics: &inference.Metrics{LatencyMs: inference.Int64(900)},
		},
	), nil
}

func (b *scriptedBackend) Requests() []*inference.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*inference.Request(nil), b.requests...)
}

// newTestServer sets up a real web.Server backed by the embedded prompts and
// the provided backend.
func newTestServer(t *testing.T, backend inference.Backend) *httptest.Server {
	t.Helper()
	catalog, err := prompt.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := pipeline.NewController(inference.NewGateway(backend, logger), catalog, "test-model", logger)
	srv := httptest.NewServer(web.NewServer(session.NewRegistry(), ctrl, templates.FS, 0, logger))
	t.Cleanup(srv.Close)
	return srv
}

// noRedirect is a client that returns redirects instead of following them.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// buildMultipartBody creates a multipart/form-data body with an "image" field.
func buildMultipartBody(t *testing.T, imageData []byte) (body *bytes.Buffer, contentType string) {
	t.Helper()
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("image", "schema.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(imageData); err != nil {
		t.Fatalf("write image data: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, w.FormDataContentType()
}

// createSession uploads minimalPNG and returns the session path.
func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	body, contentType := buildMultipartBody(t, minimalPNG)
	resp, err := noRedirect.Post(srv.URL+"/sessions", contentType, body)
	if err != nil {
		t.Fatalf("POST /sessions: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusSeeOther {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /sessions status %d: %s", resp.StatusCode, b)
	}
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/sessions/") {
		t.Fatalf("Location = %q, want a session path", loc)
	}
	return loc
}

// postStream posts form to path and collects the event stream it answers with.
func postStream(t *testing.T, srv *httptest.Server, path string, form url.Values) []display.Frame {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return readStream(t, resp, path)
}

// postMultipartStream posts fields as multipart/form-data, the way the
// session page submits its forms, and collects the streamed frames.
func postMultipartStream(t *testing.T, srv *httptest.Server, path string, fields map[string]string) []display.Frame {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	resp, err := http.Post(srv.URL+path, w.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return readStream(t, resp, path)
}

// readStream decodes the data lines of an event stream response.
func readStream(t *testing.T, resp *http.Response, path string) []display.Frame {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST %s status %d: %s", path, resp.StatusCode, b)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	var frames []display.Frame
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var f display.Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		t.Fatalf("POST %s: no events", path)
	}
	return frames
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(b)
}

func TestIntegration_UploadAndViewSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newTestServer(t, &scriptedBackend{})
	path := createSession(t, srv)

	resp, body := get(t, srv, path)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "Convert to TF") {
		t.Errorf("session page does not offer conversion:\n%s", body)
	}

	resp, body = get(t, srv, path+"/image")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", got)
	}
	if body != string(minimalPNG) {
		t.Error("image bytes differ from the upload")
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestIntegration_UploadRejectsNonPNG(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newTestServer(t, &scriptedBackend{})

	tests := []struct {
		name string
		data []byte
	}{
		{name: "JPEG", data: minimalJPEG},
		{name: "text", data: []byte("resource \"aws_s3_bucket\" \"b\" {}")},
		{name: "empty", data: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := buildMultipartBody(t, tt.data)
			resp, err := noRedirect.Post(srv.URL+"/sessions", contentType, body)
			if err != nil {
				t.Fatalf("POST /sessions: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestIntegration_ConvertThenUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backend := &scriptedBackend{replies: []string{description, stackAnswer, updated}}
	srv := newTestServer(t, backend)
	path := createSession(t, srv)

	frames := postStream(t, srv, path+"/convert", nil)
	if frames[0].Type != display.FrameImage || frames[0].Caption != pipeline.ImageCaption {
		t.Errorf("first frame = %+v, want the uploaded image", frames[0])
	}
	last := frames[len(frames)-1]
	if last.Type != display.FrameDone {
		t.Fatalf("last frame = %+v, want done", last)
	}
	if len(last.Reports) != 2 {
		t.Fatalf("done frame has %d reports, want 2", len(last.Reports))
	}
	if got := *last.Reports[0].TotalTokens; got != 42 {
		t.Errorf("total tokens = %d, want 42", got)
	}
	var progress []string
	for _, f := range frames {
		if f.Type == display.FrameProgress && f.Stage == prompt.StageDescribe {
			progress = append(progress, f.Text)
		}
	}
	if len(progress) != 2 || progress[1] != description {
		t.Errorf("describe progress = %q, want two cumulative updates ending in the description", progress)
	}

	_, page := get(t, srv, path)
	if !strings.Contains(page, description) {
		t.Errorf("session page does not show the description:\n%s", page)
	}
	if !strings.Contains(page, "aws_s3_bucket.b") {
		t.Errorf("session page does not list the generated resource:\n%s", page)
	}

	resp, stack := get(t, srv, path+"/stack.tf")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET stack.tf: expected 200, got %d", resp.StatusCode)
	}
	if want := "resource \"aws_s3_bucket\" \"b\" {\n  bucket = \"x\"\n}\n"; stack != want {
		t.Errorf("stack.tf = %q, want %q", stack, want)
	}
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="main.tf"` {
		t.Errorf("Content-Disposition = %q", got)
	}

	frames = postStream(t, srv, path+"/update", url.Values{"request": {"add a VPC"}})
	if last := frames[len(frames)-1]; last.Type != display.FrameDone || len(last.Reports) != 3 {
		t.Fatalf("last update frame = %+v, want done with 3 reports", last)
	}
	if frames[0].Type != display.FrameStage || frames[0].Stage != prompt.StageUpdate {
		t.Errorf("first update frame = %+v, want the update stage", frames[0])
	}

	_, stack = get(t, srv, path+"/stack.tf")
	if !strings.Contains(stack, "aws_vpc") {
		t.Errorf("stack.tf after update does not contain the VPC:\n%s", stack)
	}

	reqs := backend.Requests()
	if len(reqs) != 3 {
		t.Fatalf("backend saw %d requests, want 3", len(reqs))
	}
	if reqs[0].ModelID != "test-model" || reqs[0].Config.MaxTokens != inference.MaxTokens {
		t.Errorf("request config = %+v", reqs[0])
	}
	if !strings.Contains(reqs[2].Messages[0].Content[0].Text, "add a VPC") {
		t.Error("update request text was not sent to the model")
	}
}

func TestIntegration_UpdateFromMultipartForm(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backend := &scriptedBackend{replies: []string{description, stackAnswer, updated}}
	srv := newTestServer(t, backend)
	path := createSession(t, srv)
	postStream(t, srv, path+"/convert", nil)

	frames := postMultipartStream(t, srv, path+"/update", map[string]string{"request": "add a VPC"})

	if last := frames[len(frames)-1]; last.Type != display.FrameDone {
		t.Fatalf("last update frame = %+v, want done", last)
	}
	reqs := backend.Requests()
	if len(reqs) != 3 {
		t.Fatalf("backend saw %d requests, want 3", len(reqs))
	}
	if !strings.Contains(reqs[2].Messages[0].Content[0].Text, "add a VPC") {
		t.Errorf("update prompt = %q, want it to carry the multipart request field", reqs[2].Messages[0].Content[0].Text)
	}
}

func TestIntegration_UpdateRejectsOversizedForm(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backend := &scriptedBackend{replies: []string{description, stackAnswer}}
	srv := newTestServer(t, backend)
	path := createSession(t, srv)
	postStream(t, srv, path+"/convert", nil)

	form := url.Values{"request": {strings.Repeat("a", 2<<20)}}
	req := httptest.NewRequest(http.MethodPost, path+"/update", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Config.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized update form: expected 413, got %d", rec.Code)
	}
	if got := len(backend.Requests()); got != 2 {
		t.Errorf("backend saw %d requests, want 2", got)
	}
}

func TestIntegration_ConvertTwiceReusesResults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backend := &scriptedBackend{replies: []string{description, stackAnswer}}
	srv := newTestServer(t, backend)
	path := createSession(t, srv)

	postStream(t, srv, path+"/convert", nil)
	frames := postStream(t, srv, path+"/convert", nil)

	if last := frames[len(frames)-1]; last.Type != display.FrameDone {
		t.Fatalf("last frame = %+v, want done", last)
	}
	if got := len(backend.Requests()); got != 2 {
		t.Errorf("backend saw %d requests, want 2", got)
	}
}

func TestIntegration_UpdateWithoutStack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backend := &scriptedBackend{}
	srv := newTestServer(t, backend)
	path := createSession(t, srv)

	frames := postStream(t, srv, path+"/update", url.Values{"request": {"add a VPC"}})

	if len(frames) != 1 || frames[0].Type != display.FrameError {
		t.Fatalf("frames = %+v, want a single error", frames)
	}
	if frames[0].Error != "Please generate a Terraform stack first before applying updates." {
		t.Errorf("error = %q", frames[0].Error)
	}
	if len(backend.Requests()) != 0 {
		t.Error("the model was called without a stack")
	}

	resp, _ := get(t, srv, path+"/stack.tf")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET stack.tf: expected 404, got %d", resp.StatusCode)
	}
}

func TestIntegration_ModelFailureIsReported(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newTestServer(t, &scriptedBackend{})
	path := createSession(t, srv)

	frames := postStream(t, srv, path+"/convert", nil)

	last := frames[len(frames)-1]
	if last.Type != display.FrameError || last.Stage != prompt.StageDescribe {
		t.Fatalf("last frame = %+v, want a describe error", last)
	}
	if !strings.Contains(last.Error, "too many requests") {
		t.Errorf("error = %q", last.Error)
	}

	_, page := get(t, srv, path)
	if !strings.Contains(page, `id="step3" hidden`) {
		t.Error("update form is shown although no stack exists")
	}
}

func TestIntegration_UnknownSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newTestServer(t, &scriptedBackend{})

	for _, path := range []string{"/sessions/nope", "/sessions/nope/image", "/sessions/nope/stack.tf", "/sessions/nope/live"} {
		if resp, _ := get(t, srv, path); resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, resp.StatusCode)
		}
	}
	resp, err := http.PostForm(srv.URL+"/sessions/nope/convert", nil)
	if err != nil {
		t.Fatalf("POST convert: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST convert: expected 404, got %d", resp.StatusCode)
	}
}

func TestIntegration_DeleteSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newTestServer(t, &scriptedBackend{})
	path := createSession(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new DELETE request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if resp, _ := get(t, srv, path); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestIntegration_LiveSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	backend := &scriptedBackend{replies: []string{description, stackAnswer, updated}}
	srv := newTestServer(t, backend)
	path := createSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	untilEnd := func() []display.Frame {
		t.Helper()
		var frames []display.Frame
		for {
			var f display.Frame
			if err := conn.ReadJSON(&f); err != nil {
				t.Fatalf("read frame: %v", err)
			}
			frames = append(frames, f)
			if f.Type == display.FrameDone || f.Type == display.FrameError {
				return frames
			}
		}
	}

	frames := untilEnd()
	if len(frames) != 2 || frames[0].Type != display.FrameImage {
		t.Fatalf("greeting = %+v, want the image then done", frames)
	}

	send := func(req map[string]string) {
		t.Helper()
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(map[string]string{"action": "update", "request": "add a VPC"})
	frames = untilEnd()
	if last := frames[len(frames)-1]; last.Error != "Please generate a Terraform stack first before applying updates." {
		t.Errorf("update before convert = %+v, want the missing stack error", last)
	}

	send(map[string]string{"action": "convert"})
	frames = untilEnd()
	if last := frames[len(frames)-1]; last.Type != display.FrameDone || len(last.Reports) != 2 {
		t.Fatalf("convert ended with %+v", last)
	}

	send(map[string]string{"action": "update", "request": "add a VPC"})
	frames = untilEnd()
	last := frames[len(frames)-1]
	if last.Type != display.FrameDone || len(last.Reports) != 3 {
		t.Fatalf("update ended with %+v", last)
	}
	if got := frames[len(frames)-2].Text; got != updated {
		t.Errorf("last progress = %q, want the updated stack", got)
	}

	send(map[string]string{"action": "reset"})
	frames = untilEnd()
	if frames[0].Error != "Unknown action." {
		t.Errorf("unknown action = %+v", frames[0])
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames = untilEnd()
	if frames[0].Error != "Invalid message." {
		t.Errorf("invalid message = %+v", frames[0])
	}

	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		t.Errorf("close: %v", err)
	}
}

func TestIntegration_HealthAndMetrics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := newTestServer(t, &scriptedBackend{})
	createSession(t, srv)

	if resp, body := get(t, srv, "/healthz"); resp.StatusCode != http.StatusOK || body != "ok\n" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
	resp, body := get(t, srv, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "schema2tf_sessions_active") {
		t.Error("metrics do not include the session gauge")
	}
	if !strings.Contains(body, `schema2tf_http_requests_total{method="POST",route="POST /sessions",status="303"}`) {
		t.Error("metrics do not include the upload request")
	}
}
