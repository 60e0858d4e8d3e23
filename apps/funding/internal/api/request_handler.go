package api

import (
	"net/http"

	"aside/apps/funding/internal/model"
	"aside/apps/funding/internal/requests"

	"go.uber.org/zap"
)

// RequestHandler handles funding and withdrawal request endpoints
type RequestHandler struct {
	responder
	requests *requests.Service
}

func NewRequestHandler(svc *requests.Service, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{responder: responder{logger: logger}, requests: svc}
}

// CreateFunding handles POST /api/requests/funding
func (h *RequestHandler) CreateFunding(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.SideFunding)
}

// CreateWithdrawal handles POST /api/requests/withdrawal
func (h *RequestHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.SideWithdrawal)
}

func (h *RequestHandler) create(w http.ResponseWriter, r *http.Request, side model.Side) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body CreateRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	if body.Currency == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_currency", "Currency is required")
		return
	}

	created, err := h.requests.Create(r.Context(), requests.CreateInput{
		UserID:   userID,
		Side:     side,
		Currency: body.Currency,
		Amount:   body.Amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, created)
}

// List handles GET /api/requests
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	views, err := h.requests.List(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if views == nil {
		views = []requests.RequestView{}
	}
	h.writeJSONResponse(w, http.StatusOK, views)
}

// Cancel handles DELETE /api/requests/{id}
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.requests.Cancel(r.Context(), userID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, CancelResponse{RequestID: id, Cancelled: true})
}

// Window handles GET /api/merge-window
func (h *RequestHandler) Window(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.requests.Window())
}

// Status handles GET /api/merge-window/status
func (h *RequestHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	status, err := h.requests.Status(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, status)
}

// Join handles POST /api/merge-window/join
func (h *RequestHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	res, err := h.requests.OptIn(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, res)
}
