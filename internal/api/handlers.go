package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/billscan/billscan/internal/fetch"
	"github.com/billscan/billscan/internal/logger"
	"github.com/billscan/billscan/internal/render"
)

// processRequest is the body of POST /api/v1/bills/process.
type processRequest struct {
	Document string `json:"document" validate:"required,url"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		jsonError(w, "document must be a valid URL", http.StatusBadRequest)
		return
	}

	data, err := s.fetcher.Fetch(r.Context(), req.Document)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, fetch.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		jsonError(w, err.Error(), status)
		return
	}

	s.process(w, r, data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Extra headroom for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, "file exceeds upload size limit", http.StatusRequestEntityTooLarge)
		return
	}

	logger.Debug("upload received", "filename", header.Filename, "size", len(data))
	s.process(w, r, data)
}

// process renders the payload and runs extraction, mapping outcomes onto
// HTTP statuses. Partial results are 200s with is_success false; a
// document where every chunk failed is a 502.
func (s *Server) process(w http.ResponseWriter, r *http.Request, data []byte) {
	pages, err := render.Render(data, render.Limits{
		MaxPages: s.cfg.MaxPages,
		MaxBytes: s.cfg.MaxUploadBytes,
	})
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, render.ErrTooManyPages), errors.Is(err, render.ErrTooLarge):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, render.ErrUnsupported):
			status = http.StatusUnsupportedMediaType
		}
		jsonError(w, err.Error(), status)
		return
	}

	result, err := s.processor.ProcessDocument(r.Context(), pages)

	resp := result.Envelope(err)

	// ProcessDocument returns an error only when no chunk succeeded, so
	// the error alone decides total failure; the placeholder pages it
	// still emits do not count as recovered data.
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"is_success": false,
		"message":    message,
	})
}
