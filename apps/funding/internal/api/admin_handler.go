package api

import (
	"net/http"

	"aside/apps/funding/internal/admin"
	"aside/apps/funding/internal/cycle"
	"aside/apps/funding/internal/schedule"
	"aside/apps/funding/internal/settlement"

	"go.uber.org/zap"
)

// AdminHandler handles operator endpoints. Routes are mounted behind requireAdmin.
type AdminHandler struct {
	responder
	admin        *admin.Service
	settlement   *settlement.Service
	orchestrator *cycle.Orchestrator
	clock        schedule.Clock
}

func NewAdminHandler(adminSvc *admin.Service, settlementSvc *settlement.Service, orchestrator *cycle.Orchestrator, clock schedule.Clock, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		responder:    responder{logger: logger},
		admin:        adminSvc,
		settlement:   settlementSvc,
		orchestrator: orchestrator,
		clock:        clock,
	}
}

// Dashboard handles GET /api/admin/dashboard
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.admin.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, d)
}

// Unmatched handles GET /api/admin/unmatched?currency=
func (h *AdminHandler) Unmatched(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_currency", "Currency is required")
		return
	}
	out, err := h.admin.Unmatched(r.Context(), currency)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, out)
}

// ManualMatch handles POST /api/admin/matches/manual
func (h *AdminHandler) ManualMatch(w http.ResponseWriter, r *http.Request) {
	var body ManualMatchBody
	if !h.decode(w, r, &body) {
		return
	}
	pair, err := h.settlement.ManualMatch(r.Context(), settlement.ManualMatchInput{
		FundingRequestID:    body.FundingRequestID,
		WithdrawalRequestID: body.WithdrawalRequestID,
		Amount:              body.Amount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, pair)
}

// PoolMatch handles POST /api/admin/matches/pool
func (h *AdminHandler) PoolMatch(w http.ResponseWriter, r *http.Request) {
	var body PoolMatchBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.settlement.PoolMatch(r.Context(), body.RequestID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, res)
}

// TriggerCycle handles POST /api/admin/cycles/trigger
func (h *AdminHandler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.orchestrator.TriggerNow(r.Context(), h.clock.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, report)
}

// Unblock handles POST /api/admin/users/{id}/unblock
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.admin.Unblock(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, UnblockResponse{UserID: userID, Unblocked: n})
}

// Blocked handles GET /api/admin/users/blocked
func (h *AdminHandler) Blocked(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.Blocked(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, users)
}

// Disputes handles GET /api/admin/disputes
func (h *AdminHandler) Disputes(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.settlement.ListDisputes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if pairs == nil {
		h.writeJSONResponse(w, http.StatusOK, []struct{}{})
		return
	}
	h.writeJSONResponse(w, http.StatusOK, pairs)
}

// ResolveDispute handles POST /api/admin/disputes/{id}/resolve
func (h *AdminHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	pairID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var body ResolveDisputeBody
	if !h.decode(w, r, &body) {
		return
	}
	pair, err := h.settlement.ResolveDispute(r.Context(), pairID, body.Resolution)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, pair)
}

// Audit handles GET /api/admin/audit/{id}
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.admin.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, entries)
}
