package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/techfix/backend/internal/models"
	"github.com/techfix/backend/internal/services"
)

type DisputeHandler struct {
	escrow    *services.EscrowService
	validator *services.ValidationHelper
}

func NewDisputeHandler(escrow *services.EscrowService) *DisputeHandler {
	return &DisputeHandler{
		escrow:    escrow,
		validator: services.NewValidationHelper(),
	}
}

// OpenDispute contests a retained payment
// @Summary Open a dispute
// @Description Contest a retained payment before funds are released
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Param dispute body object{reason=string} true "Dispute reason"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{txId}/dispute [post]
func (h *DisputeHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := h.escrow.OpenDispute(r.Context(), txID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": tx,
	})
}

// ResolveDispute settles a contested payment
// @Summary Resolve a dispute
// @Description Resolve a contested payment in favor of the payee (release) or the payer (refund)
// @Tags disputes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Param resolution body object{outcome=string} true "favor_payee or favor_payer"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /payments/{txId}/dispute/resolve [post]
func (h *DisputeHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	var req struct {
		Outcome models.DisputeOutcome `json:"outcome" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !req.Outcome.Valid() {
		services.SendErrorResponse(w, "Unknown dispute outcome", http.StatusBadRequest, nil)
		return
	}

	tx, err := h.escrow.ResolveDispute(r.Context(), txID, req.Outcome)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": tx,
	})
}
