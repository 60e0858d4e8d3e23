package api

import (
	"errors"
	"net/http"

	"aside/apps/funding/internal/settlement"

	"go.uber.org/zap"
)

// MaxProofSize bounds a proof upload.
const MaxProofSize = 10 << 20

// MatchHandler handles the settlement actions of funders and withdrawers
type MatchHandler struct {
	responder
	settlement *settlement.Service
}

func NewMatchHandler(svc *settlement.Service, logger *zap.Logger) *MatchHandler {
	return &MatchHandler{responder: responder{logger: logger}, settlement: svc}
}

// Active handles GET /api/matches/active
func (h *MatchHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	active, err := h.settlement.Active(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, active)
}

// UploadProof handles POST /api/matches/{id}/proof as multipart with a "file" part
func (h *MatchHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	pairID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxProofSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "file_too_large", "Proof file is too large")
			return
		}
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_multipart", "Expected a multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_file", "Proof file is required")
		return
	}
	defer file.Close()
	if header.Size > MaxProofSize {
		h.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "file_too_large", "Proof file is too large")
		return
	}

	pair, err := h.settlement.UploadProof(r.Context(), userID, pairID, settlement.Upload{
		Filename: header.Filename,
		Body:     file,
		Size:     header.Size,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, pair)
}

// Confirm handles POST /api/matches/{id}/confirm
func (h *MatchHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	pairID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	pair, err := h.settlement.ConfirmProof(r.Context(), userID, pairID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, pair)
}

// Extension handles POST /api/matches/{id}/extension
func (h *MatchHandler) Extension(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	pairID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	pair, err := h.settlement.RequestExtension(r.Context(), userID, pairID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, pair)
}
