package quotations

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solarcalc/invoicing/internal/platform/httpx"
	"github.com/solarcalc/invoicing/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler serves the quotation JSON API and the public share view.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode preview request failed", err)
		return
	}
	preview, err := h.service.Preview(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "preview quotation failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode create request failed", err)
		return
	}
	doc, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "create quotation failed", err)
		return
	}
	h.logger.Info("quotation created", "document_id", doc.ID, "doc_number", doc.Number)
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := httpx.Page(r, defaultPageSize, maxPageSize)
	status := Status(r.URL.Query().Get("status"))
	page, err := h.service.List(r.Context(), shared.ActorFromContext(r.Context()), status, limit, offset)
	if err != nil {
		h.fail(w, r, "list quotations failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get quotation failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	docs, err := h.service.Versions(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "list versions failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": docs})
}

// CreateVersion appends a visible revision.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	h.revise(w, r, false)
}

// Update appends a silent revision that keeps the number and share link.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	h.revise(w, r, true)
}

func (h *Handler) revise(w http.ResponseWriter, r *http.Request, silent bool) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req ReviseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode revise request failed", err)
		return
	}
	req.Silent = silent
	doc, err := h.service.Revise(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "revise quotation failed", err)
		return
	}
	h.logger.Info("quotation revised", "document_id", doc.ID, "parent_id", id, "version", doc.Version, "silent", silent)
	status := http.StatusCreated
	if silent {
		status = http.StatusOK
	}
	httpx.JSON(w, status, doc)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "quotation history failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	actionID, err := strconv.ParseInt(chi.URLParam(r, "actionID"), 10, 64)
	if err != nil || actionID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid action id")
		return
	}
	entry, snap, err := h.service.Snapshot(r.Context(), id, actionID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "quotation snapshot failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"action": entry, "snapshot": snap})
}

func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req ShareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode share request failed", err)
		return
	}
	doc, err := h.service.UpdateShare(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "update share failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shareResponse{Document: doc, ShareURL: h.service.ShareURL(doc.ShareToken)})
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "decode payment request failed", err)
		return
	}
	doc, err := h.service.RecordPayment(r.Context(), id, req.Amount, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "record payment failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, "delete quotation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublicView serves a shared document without an actor.
func (h *Handler) PublicView(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.PublicView(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, "public view failed", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, doc.Public())
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quotation id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Warn(msg, slog.String("actor_id", shared.ActorFromContext(r.Context())), slog.Any("error", err))
	httpx.RespondError(w, err)
}
