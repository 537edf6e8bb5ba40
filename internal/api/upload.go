package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/banshee-data/greenlight/internal/detection"
	"github.com/banshee-data/greenlight/internal/httputil"
	"github.com/banshee-data/greenlight/internal/monitoring"
)

// multipartOverhead allows for headers and boundaries around the file part.
const multipartOverhead = 64 << 10

// uploadImage runs detection on one uploaded image, outside the cycle loop.
// The form field is "file"; the reply is {"count", "emergency", "image"}.
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := s.maxUpload + multipartOverhead
	if r.ContentLength > limit {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		httputil.BadRequest(w, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "No file uploaded")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		httputil.BadRequest(w, "No selected file")
		return
	}
	if header.Size > s.maxUpload {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	frame, err := io.ReadAll(file)
	if err != nil {
		httputil.BadRequest(w, "failed to read upload")
		return
	}

	result, err := s.detector.DetectFrame(r.Context(), frame)
	switch {
	case errors.Is(err, detection.ErrEmptyFrame), errors.Is(err, detection.ErrUndecodableFrame):
		httputil.BadRequest(w, "invalid image")
		return
	case err != nil:
		monitoring.Warnf("[API] upload detection failed: %v", err)
		httputil.BadGateway(w, "detection failed")
		return
	}
	httputil.WriteJSONOK(w, result)
}
