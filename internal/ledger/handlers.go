package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-ledger/internal/extraction"
	"github.com/zombor/receipt-ledger/internal/ocr"
	"github.com/zombor/receipt-ledger/internal/receipt"
)

const (
	// maxImageSize is the upload limit for high-resolution phone photos
	maxImageSize = int64(50 << 20)
	maxTextSize  = int64(1 << 20)
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message}
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// statusForProcessError maps pipeline failures to HTTP statuses
func statusForProcessError(err error) int {
	var (
		payloadErr   *extraction.PayloadError
		serviceErr   *extraction.ServiceError
		transportErr *extraction.TransportError
	)
	switch {
	case errors.As(err, &payloadErr), errors.Is(err, ocr.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.As(err, &serviceErr):
		return http.StatusBadGateway
	case errors.As(err, &transportErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, ErrNoRecognizer):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

// handleCreateEntry accepts receipt text (JSON or plain) or a multipart image
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		result *Result
		err    error
	)
	switch mediaType {
	case "multipart/form-data":
		data, contentType, ok := readUpload(w, r)
		if !ok {
			return
		}
		result, err = s.service.ProcessImage(r.Context(), data, contentType)
	case "application/json":
		var req struct {
			Text *string `json:"text"`
		}
		if decodeErr := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextSize)).Decode(&req); decodeErr != nil || req.Text == nil {
			jsonError(w, `Request body must be a JSON object with a "text" field`, http.StatusBadRequest)
			return
		}
		result, err = s.service.ProcessText(r.Context(), *req.Text)
	case "", "text/plain":
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextSize))
		if readErr != nil {
			jsonError(w, "Error reading request body", http.StatusBadRequest)
			return
		}
		result, err = s.service.ProcessText(r.Context(), string(body))
	default:
		jsonError(w, "Unsupported content type "+mediaType, http.StatusUnsupportedMediaType)
		return
	}

	if err != nil {
		slog.Error("Error processing receipt", "error", err)
		jsonError(w, err.Error(), statusForProcessError(err))
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// readUpload reads the "file" part of a multipart form. It writes the error
// response itself and reports whether the caller should continue.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return nil, "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return nil, "", false
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return nil, "", false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".gif":
			contentType = "image/gif"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		}
	}

	return data, strings.ToLower(strings.TrimSpace(contentType)), true
}

// handleListEntries returns all entries, newest first
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListEntries()
	if err != nil {
		slog.Error("Error listing entries", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleGetEntry returns a single entry
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetEntry(r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error getting entry", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteEntry deletes an entry
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteEntry(r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error deleting entry", "error", err)
		corsError(w, "Error deleting receipt", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetValidation recomputes the validation of an entry
func (s *Server) handleGetValidation(w http.ResponseWriter, r *http.Request) {
	validation, err := s.service.Validate(r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error validating entry", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, validation)
}

// parseIDs splits a comma separated id list, dropping blanks
func parseIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// handleExportCSV downloads the CSV export of the requested entries
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.exportCSVBytes(parseIDs(r.URL.Query().Get("ids")))
	if errors.Is(err, ErrNotFound) {
		corsError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error exporting entries", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": receipt.Filename(s.service.timeSource.Now()),
	}))
	_, _ = w.Write(data)
}

// handleSaveExport stores the CSV export of the requested entries
func (s *Server) handleSaveExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextSize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	name, err := s.service.SaveExport(req.IDs)
	if errors.Is(err, ErrNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error saving export", "error", err)
		jsonError(w, "Error saving export", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"filename": name})
}

// handleGetExport downloads a saved export
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.service.GetExport(name)
	if err != nil {
		corsError(w, "Export not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	_, _ = w.Write(data)
}
