// Package handler exposes the approval workflow over HTTP/JSON.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/bizsuite/be-approvals/internal/apperrors"
	"github.com/bizsuite/be-approvals/internal/repository"
	"github.com/bizsuite/be-approvals/internal/service"
	"github.com/bizsuite/be-approvals/internal/stats"
)

// HTTPHandler serves the approval REST API.
type HTTPHandler struct {
	svc *service.ApprovalService
	log zerolog.Logger
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(svc *service.ApprovalService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log}
}

// RegisterRoutes attaches all API routes to the mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals", h.handleApprovals)
	mux.HandleFunc("/api/v1/approvals/get", h.handleGet)
	mux.HandleFunc("/api/v1/approvals/timeline", h.handleTimeline)
	mux.HandleFunc("/api/v1/approvals/pending", h.handlePending)
	mux.HandleFunc("/api/v1/approvals/history", h.handleHistory)
	mux.HandleFunc("/api/v1/approvals/statistics", h.handleStatistics)
	mux.HandleFunc("/api/v1/approvals/submit", h.handleSubmit)
	mux.HandleFunc("/api/v1/approvals/approve", h.handleApprove)
	mux.HandleFunc("/api/v1/approvals/reject", h.handleReject)
	mux.HandleFunc("/api/v1/approvals/delegate", h.handleDelegate)
	mux.HandleFunc("/api/v1/approvals/skip", h.handleSkip)
	mux.HandleFunc("/api/v1/approvals/acknowledge", h.handleAcknowledge)
	mux.HandleFunc("/api/v1/approvals/withdraw", h.handleWithdraw)
}

// handleApprovals dispatches POST (create) and GET (list) on the collection.
func (h *HTTPHandler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		h.respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *HTTPHandler) create(w http.ResponseWriter, r *http.Request) {
	var input service.CreateDocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid JSON payload"))
		return
	}

	doc, err := h.svc.CreateDocument(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, doc)
}

func (h *HTTPHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.ListFilter{
		Page:     atoiDefault(q.Get("page"), 1),
		PageSize: atoiDefault(q.Get("page_size"), 20),
	}
	if v := q.Get("status"); v != "" {
		status := repository.DocumentStatus(v)
		filter.Status = &status
	}
	if v := q.Get("category_id"); v != "" {
		filter.CategoryID = &v
	}
	if v := q.Get("requester_id"); v != "" {
		filter.RequesterID = &v
	}

	docs, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*repository.ApprovalDocument{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, r, apperrors.InvalidInput("id", "document id is required"))
		return
	}

	detail, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

func (h *HTTPHandler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, r, apperrors.InvalidInput("id", "document id is required"))
		return
	}

	detail, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail.Timeline)
}

func (h *HTTPHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		h.respondError(w, r, apperrors.InvalidInput("approver_id", "approver id is required"))
		return
	}

	items, err := h.svc.ListPendingForApprover(r.Context(), approverID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.respondError(w, r, apperrors.InvalidInput("id", "document id is required"))
		return
	}

	entries, err := h.svc.GetHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*repository.HistoryEntry{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *HTTPHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	scope := stats.Scope(q.Get("scope"))
	if scope == "" {
		scope = stats.ScopeAll
	}
	if scope != stats.ScopeAll && scope != stats.ScopeMine {
		h.respondError(w, r, apperrors.InvalidInput("scope", "scope must be all or mine"))
		return
	}

	report, err := h.svc.GetStatistics(r.Context(), scope, q.Get("user_id"), atoiDefault(q.Get("months"), stats.DefaultWindowMonths))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

// ── workflow transitions ──────────────────────────────────────────────────────

type submitRequest struct {
	DocumentID string              `json:"document_id"`
	ActorID    string              `json:"actor_id"`
	Lines      []service.LineInput `json:"lines,omitempty"`
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid JSON payload"))
		return
	}
	if req.DocumentID == "" || req.ActorID == "" {
		h.respondError(w, r, apperrors.InvalidInput("body", "document_id and actor_id are required"))
		return
	}

	result, err := h.svc.Submit(r.Context(), req.DocumentID, req.ActorID, req.Lines)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

type actionRequest struct {
	DocumentID string  `json:"document_id"`
	LineID     string  `json:"line_id"`
	ActorID    string  `json:"actor_id"`
	Comment    *string `json:"comment,omitempty"`
	DelegateTo string  `json:"delegate_to,omitempty"`
	Reason     *string `json:"reason,omitempty"`
}

// decodeAction parses and validates the common transition payload.
func (h *HTTPHandler) decodeAction(w http.ResponseWriter, r *http.Request, needLine bool) (*actionRequest, bool) {
	if !h.requireMethod(w, r, http.MethodPost) {
		return nil, false
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.InvalidInput("body", "invalid JSON payload"))
		return nil, false
	}
	if req.DocumentID == "" || req.ActorID == "" {
		h.respondError(w, r, apperrors.InvalidInput("body", "document_id and actor_id are required"))
		return nil, false
	}
	if needLine && req.LineID == "" {
		h.respondError(w, r, apperrors.InvalidInput("line_id", "line id is required"))
		return nil, false
	}
	return &req, true
}

func (h *HTTPHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r, true)
	if !ok {
		return
	}
	result, err := h.svc.Approve(r.Context(), req.DocumentID, req.LineID, req.ActorID, req.Comment)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r, true)
	if !ok {
		return
	}
	comment := ""
	if req.Comment != nil {
		comment = *req.Comment
	}
	result, err := h.svc.Reject(r.Context(), req.DocumentID, req.LineID, req.ActorID, comment)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleDelegate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r, true)
	if !ok {
		return
	}
	result, err := h.svc.Delegate(r.Context(), req.DocumentID, req.LineID, req.ActorID, req.DelegateTo, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleSkip(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r, true)
	if !ok {
		return
	}
	result, err := h.svc.Skip(r.Context(), req.DocumentID, req.LineID, req.ActorID, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r, true)
	if !ok {
		return
	}
	result, err := h.svc.Acknowledge(r.Context(), req.DocumentID, req.LineID, req.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r, false)
	if !ok {
		return
	}
	result, err := h.svc.Withdraw(r.Context(), req.DocumentID, req.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// ── response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		h.respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := httpStatus(code)

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	h.respondJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeNotCurrentLine,
		apperrors.ErrCodeAlreadyDecided,
		apperrors.ErrCodeInvalidTransition,
		apperrors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
