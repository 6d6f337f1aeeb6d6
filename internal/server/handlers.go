package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/sirim-scanner/internal/export"
	"github.com/zombor/sirim-scanner/internal/record"
	"github.com/zombor/sirim-scanner/internal/scan"
)

// maxFormSize bounds uploaded frames (high-resolution phone photos)
const maxFormSize = int64(50 << 20) // 50MB

// recentLimit is how many records the recent list shows
const recentLimit = 5

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

// writeError writes a JSON error body with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// sessionResponse is a session status with its ID
type sessionResponse struct {
	ID string `json:"id"`
	scan.Status
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*scan.Session, bool) {
	id := r.PathValue("id")
	session, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, "Scan session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

// handleCreateSession opens a scan session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Create()
	if err != nil {
		slog.Warn("Error opening scan session", "error", err)
		writeError(w, "Too many open scan sessions", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: session.ID(), Status: session.Status()})
}

// handleGetSession returns the current session status
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: session.ID(), Status: session.Status()})
}

// handleCloseSession closes a session and discards what it captured
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(r.PathValue("id")) {
		writeError(w, "Scan session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitFrame analyses one camera frame. The form carries either a
// "frame" image, or "text" and "barcode" fields read on the device, or both.
func (s *Server) handleSubmitFrame(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	// Drop before reading the upload; Submit still guards the race
	if session.Busy() {
		slog.Debug("Frame dropped before upload", "session", session.ID())
		writeRefusal(w, http.StatusTooManyRequests, sessionResponse{ID: session.ID(), Status: session.Status()}, scan.ErrFrameDropped)
		return
	}

	frame, err := readFrame(r)
	if err != nil {
		slog.Error("Error reading frame", "session", session.ID(), "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, err := session.Submit(r.Context(), frame)
	s.writeSessionResult(w, session, status, err)
}

// readFrame builds a frame from a multipart form
func readFrame(r *http.Request) (scan.Frame, error) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			return scan.Frame{}, errors.New("frame is too large: maximum size is 50MB")
		}
		return scan.Frame{}, errors.New("error parsing form")
	}
	form := r.MultipartForm

	frame := scan.Frame{
		Text:    r.FormValue("text"),
		Barcode: r.FormValue("barcode"),
		Release: func() {
			if err := form.RemoveAll(); err != nil {
				slog.Warn("Error removing uploaded frame", "error", err)
			}
		},
	}
	_, hasText := form.Value["text"]
	_, hasBarcode := form.Value["barcode"]
	frame.Recognized = hasText || hasBarcode

	f, header, err := r.FormFile("frame")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		if !frame.Recognized {
			frame.Release()
			return scan.Frame{}, errors.New("no frame provided: send a frame image or recognized text")
		}
		return frame, nil
	case err != nil:
		frame.Release()
		return scan.Frame{}, fmt.Errorf("reading frame: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		frame.Release()
		return scan.Frame{}, fmt.Errorf("reading frame: %w", err)
	}
	frame.Image = data
	frame.ContentType = contentTypeFor(header.Header.Get("Content-Type"), header.Filename)
	return frame, nil
}

// contentTypeFor picks the upload's MIME type, falling back to its extension
func contentTypeFor(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleResetSession discards captured fields and restarts the scan
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	status, err := session.Reset()
	s.writeSessionResult(w, session, status, err)
}

// handleRetrySession retries a failed save
func (s *Server) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	status, err := session.Retry(r.Context())
	s.writeSessionResult(w, session, status, err)
}

// writeSessionResult maps a session outcome to a response. Refusals that
// still carry a status (dropped, finished, nothing to retry) return it in
// the body alongside the error.
func (s *Server) writeSessionResult(w http.ResponseWriter, session *scan.Session, status scan.Status, err error) {
	resp := sessionResponse{ID: session.ID(), Status: status}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, scan.ErrFrameDropped), errors.Is(err, scan.ErrSessionBusy):
		writeRefusal(w, http.StatusTooManyRequests, resp, err)
	case errors.Is(err, scan.ErrSessionFinished), errors.Is(err, scan.ErrNothingToRetry):
		writeRefusal(w, http.StatusConflict, resp, err)
	case errors.Is(err, scan.ErrSessionClosed):
		writeError(w, "Scan session closed", http.StatusGone)
	default:
		slog.Error("Error processing frame", "session", session.ID(), "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeRefusal(w http.ResponseWriter, code int, resp sessionResponse, err error) {
	setCORSHeaders(w)
	writeJSON(w, code, struct {
		Error string `json:"error"`
		sessionResponse
	}{Error: err.Error(), sessionResponse: resp})
}

// handleListRecords returns all records, or those matching ?q=
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	var (
		records []*record.Record
		err     error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		records, err = s.records.SearchRecords(q)
	} else {
		records, err = s.records.ListRecords()
	}
	if err != nil {
		slog.Error("Error listing records", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*record.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleRecentRecords returns the newest records
func (s *Server) handleRecentRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.RecentRecords(recentLimit)
	if err != nil {
		slog.Error("Error listing recent records", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*record.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleCreateRecord stores a manually entered record
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var in record.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.records.CreateRecord(r.Context(), in)
	if err != nil {
		writeRecordError(w, "creating", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetRecord returns a single record
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.GetRecord(r.PathValue("id"))
	if err != nil {
		writeRecordError(w, "getting", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateRecord applies a form edit to a record
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var in record.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.records.UpdateRecord(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeRecordError(w, "updating", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRecord deletes a record and its image
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.records.DeleteRecord(r.Context(), r.PathValue("id")); err != nil {
		writeRecordError(w, "deleting", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetRecordImage returns the label image stored with a record
func (s *Server) handleGetRecordImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.records.GetRecordImage(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			writeError(w, "Image not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting record image", "id", r.PathValue("id"), "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// writeRecordError maps record service errors to responses
func writeRecordError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, record.ErrInvalidRecord):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, record.ErrDuplicateSerial):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, record.ErrNotFound):
		writeError(w, "Record not found", http.StatusNotFound)
	default:
		slog.Error("Error "+action+" record", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleExport downloads all records as CSV, Excel or PDF
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.CSV)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.records.ListRecords()
	if err != nil {
		slog.Error("Error listing records for export", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Render fully before writing headers so a failure can still return 500
	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		slog.Error("Error exporting records", "format", format, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.FileName()))
	w.Write(buf.Bytes())
}
