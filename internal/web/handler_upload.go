package web

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vbonduro/schema2tf/internal/session"
)

// allowedImageTypes is the set of MIME types accepted for uploaded schemas.
// Every stage sends the image to the model as PNG, so nothing else is taken.
var allowedImageTypes = map[string]bool{
	"image/png": true,
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.renderPage(w, nil, "base.html", "pages/index.html"); err != nil {
		s.logger.Error("render index failed", "error", err)
	}
}

// handleCreateSession starts a new session from the uploaded image and
// redirects to its page.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		s.logger.Error("read upload failed", "error", err)
		return
	}
	if len(imageData) == 0 {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}
	if _, ok := allowedImageMIME(imageData); !ok {
		http.Error(w, "unsupported image format, upload a PNG", http.StatusBadRequest)
		return
	}

	st := s.sessions.Create(imageData)
	s.logger.Info("session created", "session_id", st.ID, "image_bytes", len(imageData))
	http.Redirect(w, r, "/sessions/"+st.ID, http.StatusSeeOther)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Get(r.PathValue("id"))
	if errors.Is(err, session.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "failed to get session", http.StatusInternalServerError)
		s.logger.Error("get session for image failed", "session_id", r.PathValue("id"), "error", err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(st.Image))
	w.Header().Set("Content-Length", strconv.Itoa(len(st.Image)))
	if _, err := io.Copy(w, bytes.NewReader(st.Image)); err != nil {
		s.logger.Error("write image failed", "session_id", st.ID, "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
