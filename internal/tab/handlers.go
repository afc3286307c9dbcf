package tab

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/bill-splitter/internal/bill"
	"github.com/zombor/bill-splitter/internal/scanning"
)

// maxUploadSize fits high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{
		"error": message,
	})
}

// writeServiceError maps a service error to a status code
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnconfirmed):
		return http.StatusPreconditionRequired
	case errors.Is(err, scanning.ErrExtractionFormat), errors.Is(err, scanning.ErrInterpretationFormat):
		return http.StatusBadGateway
	case errors.Is(err, ErrBusy),
		errors.Is(err, ErrNoReceipt),
		errors.Is(err, ErrEditInProgress),
		errors.Is(err, ErrSessionReset),
		errors.Is(err, bill.ErrNotEditing),
		errors.Is(err, bill.ErrAlreadyEditing):
		return http.StatusConflict
	case errors.Is(err, bill.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, bill.ErrInvalidItem), errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// pathIndex reads the {index} path value, writing a 400 on failure
func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Item index must be a number")
		return 0, false
	}
	return index, true
}

// respond writes a snapshot or the error that prevented it
func respond(w http.ResponseWriter, snap *Snapshot, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleGetSession returns the current session snapshot
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Snapshot())
}

// handleReset starts a new tab
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.service.Reset(req.Confirm)
	respond(w, snap, err)
}

// handleUploadReceipt handles the bill photo upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a photo of the bill."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFor(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	// The scan outlives the request: a client that navigates away does not cancel it
	snap, err := s.service.Upload(context.WithoutCancel(r.Context()), header.Filename, data, contentType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// handleGetImage returns the uploaded bill photo
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.Image()
	if err != nil {
		setCORSHeaders(w)
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleAssign assigns one receipt line to a set of people
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIndex *int     `json:"item_index"`
		People    []string `json:"people"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ItemIndex == nil {
		writeError(w, http.StatusBadRequest, "item_index is required")
		return
	}
	snap, err := s.service.Assign(*req.ItemIndex, req.People)
	respond(w, snap, err)
}

// handleChat sends a free-form split instruction
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.service.Chat(context.WithoutCancel(r.Context()), req.Text)
	respond(w, snap, err)
}

// handleBeginEdit opens a receipt edit
func (s *Server) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.BeginEdit()
	respond(w, snap, err)
}

// handleUpdateDraftItem changes a line on the draft
func (s *Server) handleUpdateDraftItem(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	var u bill.ItemUpdate
	if !decodeBody(w, r, &u) {
		return
	}
	snap, err := s.service.UpdateDraftItem(index, u)
	respond(w, snap, err)
}

// handleAddDraftItem appends a line to the draft
func (s *Server) handleAddDraftItem(w http.ResponseWriter, r *http.Request) {
	var item bill.LineItem
	if !decodeBody(w, r, &item) {
		return
	}
	snap, err := s.service.AddDraftItem(item)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// handleRemoveDraftItem deletes a line from the draft
func (s *Server) handleRemoveDraftItem(w http.ResponseWriter, r *http.Request) {
	index, ok := pathIndex(w, r)
	if !ok {
		return
	}
	snap, err := s.service.RemoveDraftItem(index)
	respond(w, snap, err)
}

// handleUpdateDraftTotals changes the draft's subtotal, tax or tip
func (s *Server) handleUpdateDraftTotals(w http.ResponseWriter, r *http.Request) {
	var u bill.TotalsUpdate
	if !decodeBody(w, r, &u) {
		return
	}
	snap, err := s.service.UpdateDraftTotals(u)
	respond(w, snap, err)
}

// handleCommitEdit promotes the draft to the receipt
func (s *Server) handleCommitEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.service.CommitEdit(req.Confirm)
	respond(w, snap, err)
}

// handleCancelEdit discards the draft
func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.CancelEdit()
	respond(w, snap, err)
}

// contentTypeFor guesses a MIME type from the file extension
func contentTypeFor(filename string) string {
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
