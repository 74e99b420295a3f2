package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/vbonduro/schema2tf/internal/display"
	"github.com/vbonduro/schema2tf/internal/inference"
	"github.com/vbonduro/schema2tf/internal/pipeline"
	"github.com/vbonduro/schema2tf/internal/prompt"
	"github.com/vbonduro/schema2tf/internal/session"
	"github.com/vbonduro/schema2tf/internal/terraform"
)

const (
	actionConvert = "convert"
	actionUpdate  = "update"
)

// maxUpdateRequest caps the body of an update form.
const maxUpdateRequest = 1 << 20

var errUnknownAction = errors.New("unknown action")

// actionRequest is one user action against a session, from a form post or a
// websocket message.
type actionRequest struct {
	Action  string `json:"action"`
	Request string `json:"request"`
}

// resultSink is a stage sink that can also end an action.
type resultSink interface {
	pipeline.StageSink
	Done(reports []display.ReportView)
	Fail(msg string)
	Err() error
}

type sessionPage struct {
	Session       *pipeline.State
	Resources     []string
	Reports       []pipeline.Report
	DescribeTitle string
	ConvertTitle  string
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "failed to get session", http.StatusInternalServerError)
		s.logger.Error("get session failed", "session_id", r.PathValue("id"), "error", err)
		return
	}

	page := sessionPage{
		Session:       st,
		Reports:       st.Reports,
		DescribeTitle: display.StageTitle(prompt.StageDescribe),
		ConvertTitle:  display.StageTitle(prompt.StageConvert),
	}
	if st.HasStack() {
		resources, diags := terraform.Resources(terraform.ExtractHCL(st.Stack()))
		if diags.HasErrors() {
			s.logger.Debug("generated stack does not parse", "session_id", st.ID, "error", diags.Error())
		}
		page.Resources = resources
	}
	if err := s.renderPage(w, page, "base.html", "pages/session.html"); err != nil {
		s.logger.Error("render session failed", "session_id", st.ID, "error", err)
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Get(id); errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	s.sessions.Delete(id)
	s.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	s.streamAction(w, r, actionRequest{Action: actionConvert})
}

// handleUpdate accepts the request text as a multipart or urlencoded form.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpdateRequest)
	if err := r.ParseMultipartForm(maxUpdateRequest); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "update request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	s.streamAction(w, r, actionRequest{Action: actionUpdate, Request: r.PostFormValue("request")})
}

// streamAction runs req and reports its progress as server-sent events.
func (s *Server) streamAction(w http.ResponseWriter, r *http.Request, req actionRequest) {
	id := r.PathValue("id")
	sink := display.NewSSESink(w)

	// Use a detached context so that a started stage runs to completion and
	// its result is stored even if the client navigates away.
	err := s.runAction(context.WithoutCancel(r.Context()), id, req, sink)
	if errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err := sink.Err(); err != nil {
		s.logger.Warn("write event stream failed", "session_id", id, "error", err)
	}
}

// runAction performs req under the session's lock and ends the sink with
// either the session's reports or a message for the user. A missing session
// is returned without touching the sink.
func (s *Server) runAction(ctx context.Context, id string, req actionRequest, sink resultSink) error {
	var reports []pipeline.Report
	err := s.sessions.Do(id, func(st *pipeline.State) error {
		var err error
		switch req.Action {
		case actionConvert:
			err = s.pipeline.Convert(ctx, st, sink, true)
		case actionUpdate:
			err = s.pipeline.Update(ctx, st, sink, req.Request)
		default:
			return fmt.Errorf("%w: %q", errUnknownAction, req.Action)
		}
		reports = slices.Clone(st.Reports)
		return err
	})
	if errors.Is(err, session.ErrNotFound) {
		return err
	}
	if err != nil {
		log := s.logger.With("session_id", id, "action", req.Action)
		if isUserError(err) {
			log.Info("action rejected", "reason", err)
		} else {
			log.Error("action failed", "error", err)
		}
		sink.Fail(userMessage(err))
		return err
	}
	sink.Done(display.Reports(reports))
	return nil
}

func (s *Server) handleDownloadStack(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "failed to get session", http.StatusInternalServerError)
		s.logger.Error("get session for download failed", "session_id", r.PathValue("id"), "error", err)
		return
	}
	if !st.HasStack() {
		http.Error(w, userMessage(pipeline.ErrNoStack), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", terraform.FileName))
	if _, err := w.Write(terraform.Format(terraform.ExtractHCL(st.Stack()))); err != nil {
		s.logger.Error("write stack failed", "session_id", st.ID, "error", err)
	}
}

// userErrors are mistakes the user can correct, with the text shown for each.
var userErrors = []struct {
	err error
	msg string
}{
	{pipeline.ErrNoImage, "Please upload a schema image first."},
	{pipeline.ErrNoDescription, "Please describe the schema before generating a Terraform stack."},
	{pipeline.ErrNoStack, "Please generate a Terraform stack first before applying updates."},
	{errUnknownAction, "Unknown action."},
}

func isUserError(err error) bool {
	for _, ue := range userErrors {
		if errors.Is(err, ue.err) {
			return true
		}
	}
	return false
}

// userMessage turns an action's error into text for the page.
func userMessage(err error) string {
	for _, ue := range userErrors {
		if errors.Is(err, ue.err) {
			return ue.msg
		}
	}
	if errors.Is(err, session.ErrNotFound) {
		return "This session no longer exists. Please upload the schema again."
	}

	var ierr *inference.Error
	if errors.As(err, &ierr) {
		switch ierr.Kind {
		case inference.KindThrottled:
			return "The model is receiving too many requests. Please try again in a moment."
		case inference.KindAccessDenied:
			return "The server is not allowed to call the model. Check its credentials."
		case inference.KindNotFound:
			return "The configured model was not found."
		case inference.KindValidation:
			return "The model rejected the request: " + ierr.Message
		default:
			return "The model could not be reached. Please try again."
		}
	}
	return "Something went wrong while processing the schema. Please try again."
}
