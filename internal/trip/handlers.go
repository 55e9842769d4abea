package trip

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/trip-tracker/internal/analysis"
)

// maxUploadSize allows high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{
		"error": message,
	})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var (
		validationErr *ValidationError
		constraintErr *ConstraintError
		analysisErr   *AnalysisError
		geocodeErr    *GeocodeError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrTripNotFound), errors.Is(err, ErrReceiptNotFound), errors.Is(err, ErrGeocodeMiss):
		return http.StatusNotFound
	case errors.As(err, &constraintErr):
		return http.StatusConflict
	case errors.As(err, &analysisErr), errors.As(err, &geocodeErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError writes a domain error as JSON. Unexpected errors are logged and hidden.
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Internal server error", "error", err)
		jsonError(w, "Internal server error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

// decodeBody reads a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleListTrips returns every trip, or durable matches when a search is given
func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	trips, err := s.service.FindTrips(r.Context(), q.Get("title"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

// handleCreateTrip creates a trip and makes it active
func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var f Fields
	if !decodeBody(w, r, &f) {
		return
	}
	t, err := s.service.AddTrip(f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleGetTrip returns a single trip
func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.Trip(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTrip edits a trip's scalar fields
func (s *Server) handleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	var f Fields
	if !decodeBody(w, r, &f) {
		return
	}
	t, err := s.service.UpdateTrip(r.PathValue("id"), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTrip deletes a trip and reports the trip active afterwards
func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	activeID, err := s.service.DeleteTrip(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"active_trip_id": activeID,
	})
}

// handleResetTrip clears a trip's receipts
func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ResetReceipts(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSummary returns the budget view of a trip
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summary(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleTimeline returns receipts newest first, optionally filtered by category
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.Timeline(r.PathValue("id"), r.URL.Query().Get("category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleDates returns receipts grouped by date
func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.Dates(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// writeExport sends an export as a download
func writeExport(w http.ResponseWriter, e *Export) {
	w.Header().Set("Content-Type", e.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(e.Filename, `"`, "")+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(e.Data)))
	if _, err := w.Write(e.Data); err != nil {
		slog.Error("Error writing export", "filename", e.Filename, "error", err)
	}
}

// handleExportJSON downloads a trip backup
func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	e, err := s.service.ExportJSON(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeExport(w, e)
}

// handleExportCSV downloads a trip's receipts as CSV
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	e, err := s.service.ExportCSV(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeExport(w, e)
}

// contentTypeFor guesses a content type from the file extension
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleScanReceipt analyzes an uploaded image or pasted text and stores the receipt
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	err := r.ParseMultipartForm(maxUploadSize)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	in := analysis.Input{Text: strings.TrimSpace(r.FormValue("text"))}

	if r.MultipartForm == nil {
		s.ingest(w, r, in)
		return
	}

	f, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = contentTypeFor(header.Filename)
		}
		in.Image = data
		in.ContentType = contentType
	case !errors.Is(err, http.ErrMissingFile):
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}

	s.ingest(w, r, in)
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, in analysis.Input) {
	receipt, err := s.service.Ingest(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleDraft returns a blank receipt for manual entry
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Draft())
}

// handleSaveReceipt creates or replaces a receipt
func (s *Server) handleSaveReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt Receipt
	if !decodeBody(w, r, &receipt) {
		return
	}
	rid := r.PathValue("rid")
	if receipt.ID != "" && receipt.ID != rid {
		jsonError(w, "Receipt ID does not match the URL", http.StatusBadRequest)
		return
	}
	receipt.ID = rid

	saved, created, err := s.service.SaveReceipt(r.PathValue("id"), receipt)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id"), r.PathValue("rid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGeocodeReceipt locates a stored receipt and saves the coordinates
func (s *Server) handleGeocodeReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GeocodeReceipt(r.Context(), r.PathValue("id"), r.PathValue("rid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGeocodeDraft locates an unsaved receipt and returns the patched copy
func (s *Server) handleGeocodeDraft(w http.ResponseWriter, r *http.Request) {
	var receipt Receipt
	if !decodeBody(w, r, &receipt) {
		return
	}
	patched, err := s.service.GeocodeDraft(r.Context(), receipt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patched)
}

// handleGetActive returns the active trip
func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ActiveTrip())
}

// handleSetActive selects the active trip
func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TripID string `json:"trip_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.service.SelectTrip(req.TripID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.ActiveTrip())
}

// handleGetTheme returns the theme preference
func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"theme": s.service.Theme(r.Context()),
	})
}

// handleSetTheme stores the theme preference
func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	theme, err := s.service.SetTheme(req.Theme)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"theme": theme,
	})
}

// handlePersistenceStatus reports the latest background write
func (s *Server) handlePersistenceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.PersistenceStatus())
}
