// ABOUTME: HTTP API handlers for uploading PDFs and chatting about them
// ABOUTME: Maps conversation error codes onto HTTP statuses with a JSON error body

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/pdfchat-gateway/internal/auth"
	"github.com/2389/pdfchat-gateway/internal/conversation"
	"github.com/2389/pdfchat-gateway/internal/store"
)

const (
	// multipartMemory is how much of an upload is buffered in memory before spilling to disk.
	multipartMemory = 32 << 20

	// bodyOverhead is allowed on top of uploads.max_bytes for multipart framing and JSON fields.
	bodyOverhead = 1 << 20
)

// ChatRequest is the JSON request body for POST /api/chat.
// Either DocumentID or PDFText identifies the document.
type ChatRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	PDFText    string `json:"pdf_text,omitempty"`
	Prompt     string `json:"prompt"`
	RequestID  string `json:"request_id,omitempty"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	Answer    string `json:"answer"`
	ThreadID  string `json:"thread_id"`
	TurnCount int    `json:"turn_count"`
}

// UploadResponse is the JSON response for POST /api/upload.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

// TurnResponse is one turn of a thread.
type TurnResponse struct {
	Seq       int    `json:"seq"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ThreadResponse is the JSON form of a thread.
type ThreadResponse struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"document_id,omitempty"`
	DocumentText string         `json:"document_text,omitempty"`
	TurnCount    int            `json:"turn_count"`
	Turns        []TurnResponse `json:"turns"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	// Usage is only filled on GET /api/threads/{id}.
	Usage *UsageResponse `json:"usage,omitempty"`
}

// ListThreadsResponse is the JSON response for GET /api/chat.
type ListThreadsResponse struct {
	Threads []ThreadResponse `json:"threads"`
}

// UsageResponse is the JSON response for GET /api/usage.
type UsageResponse struct {
	TotalInput   int64 `json:"total_input"`
	TotalOutput  int64 `json:"total_output"`
	TotalTokens  int64 `json:"total_tokens"`
	RequestCount int64 `json:"request_count"`
}

// handleUpload handles POST /api/upload.
// Extracts the text of the multipart "pdf" field and stores it for the caller.
func (g *Gateway) handleUpload(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	maxBytes := g.config.Uploads.MaxBytes

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+bodyOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.metrics.RecordUpload("too_large", 0)
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, conversation.CodeValidation,
				fmt.Sprintf("file exceeds %d bytes", maxBytes))
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, "expected a multipart form with a pdf field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("pdf")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Size > maxBytes {
		g.metrics.RecordUpload("too_large", header.Size)
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, conversation.CodeValidation,
			fmt.Sprintf("file exceeds %d bytes", maxBytes))
		return
	}

	text, err := g.extractor.Extract(file, header.Size)
	if err != nil {
		g.metrics.RecordUpload("extraction_error", header.Size)
		g.logger.Info("pdf extraction failed", "user_id", ac.UserID, "filename", header.Filename, "error", err)
		g.writeServiceError(w, err)
		return
	}

	doc, err := g.conversation.SaveDocument(r.Context(), ac.UserID, text)
	if err != nil {
		g.metrics.RecordUpload("storage_error", header.Size)
		g.writeServiceError(w, err)
		return
	}

	g.metrics.RecordUpload("ok", header.Size)
	g.logger.Info("document uploaded", "user_id", ac.UserID, "document_id", doc.ID, "bytes", header.Size)
	g.writeJSON(w, http.StatusOK, UploadResponse{DocumentID: doc.ID, Text: doc.FullText})
}

// handleAsk handles POST /api/chat.
func (g *Gateway) handleAsk(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	var req ChatRequest
	body := http.MaxBytesReader(w, r.Body, g.config.Uploads.MaxBytes+bodyOverhead)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, "invalid JSON body")
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = r.Header.Get("Idempotency-Key")
	}

	res, err := g.conversation.Ask(r.Context(), &conversation.AskRequest{
		OwnerID:      ac.UserID,
		DocumentID:   req.DocumentID,
		DocumentText: req.PDFText,
		Question:     req.Prompt,
		RequestID:    requestID,
	})
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, ChatResponse{
		Answer:    res.Answer,
		ThreadID:  res.ThreadID,
		TurnCount: res.TurnCount,
	})
}

// handleListThreads handles GET /api/chat.
// Supports ?sort=created|activity and ?limit=N.
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	opts := store.ListThreadsOptions{WithTurns: true}

	switch sort := r.URL.Query().Get("sort"); sort {
	case "", "created":
	case "activity":
		opts.ByActivity = true
	default:
		g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, "sort must be created or activity")
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}

	threads, err := g.conversation.ListThreads(r.Context(), ac.UserID, opts)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	resp := ListThreadsResponse{Threads: make([]ThreadResponse, len(threads))}
	for i, t := range threads {
		resp.Threads[i] = threadResponse(t, false)
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetThread handles GET /api/threads/{id}.
func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	thread, err := g.conversation.GetThread(r.Context(), ac.UserID, r.PathValue("id"))
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	stats, err := g.conversation.ThreadUsage(r.Context(), ac.UserID, thread.ID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	resp := threadResponse(thread, true)
	usage := usageResponse(stats)
	resp.Usage = &usage
	g.writeJSON(w, http.StatusOK, resp)
}

// handleUsage handles GET /api/usage.
// Optional since and until query parameters (RFC 3339) bound the range; until is exclusive.
func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	since, err := parseTimeParam(r, "since")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, err.Error())
		return
	}
	until, err := parseTimeParam(r, "until")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, conversation.CodeValidation, err.Error())
		return
	}

	stats, err := g.conversation.Usage(r.Context(), ac.UserID, since, until)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, usageResponse(stats))
}

// parseTimeParam reads an optional RFC 3339 query parameter.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func usageResponse(stats *store.UsageStats) UsageResponse {
	return UsageResponse{
		TotalInput:   stats.TotalInput,
		TotalOutput:  stats.TotalOutput,
		TotalTokens:  stats.TotalTokens,
		RequestCount: stats.RequestCount,
	}
}

func threadResponse(t *store.Thread, withText bool) ThreadResponse {
	resp := ThreadResponse{
		ID:         t.ID,
		DocumentID: t.DocumentID,
		TurnCount:  t.TurnCount,
		Turns:      make([]TurnResponse, len(t.Turns)),
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  t.UpdatedAt.Format(time.RFC3339),
	}
	if withText {
		resp.DocumentText = t.DocumentText
	}
	for i, turn := range t.Turns {
		resp.Turns[i] = TurnResponse{
			Seq:       turn.Seq,
			Role:      string(turn.Role),
			Content:   turn.Content,
			CreatedAt: turn.CreatedAt.Format(time.RFC3339),
		}
	}
	return resp
}

// statusForCode maps a conversation error code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case conversation.CodeValidation:
		return http.StatusBadRequest
	case conversation.CodeNotFound:
		return http.StatusNotFound
	case conversation.CodeDuplicateRequest:
		return http.StatusConflict
	case conversation.CodeExtraction:
		return http.StatusUnprocessableEntity
	case conversation.CodeProvider:
		return http.StatusBadGateway
	case conversation.CodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err in the API error shape. Client-caused errors
// carry their message; server-side failures are logged and reported generically.
func (g *Gateway) writeServiceError(w http.ResponseWriter, err error) {
	code := conversation.Code(err)
	status := statusForCode(code)

	msg := err.Error()
	switch code {
	case conversation.CodeProvider:
		msg = "the answer provider failed, please try again"
	case conversation.CodeStorage:
		msg = "storage is unavailable, please try again"
	case conversation.CodeInternal:
		msg = "internal server error"
	}
	if status >= 500 {
		g.logger.Error("request failed", "code", code, "error", err)
	}

	g.sendJSONError(w, status, code, msg)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code, message string) {
	g.writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}
