package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/techfix/backend/internal/models"
	"github.com/techfix/backend/internal/services"
)

type PaymentHandler struct {
	escrow    *services.EscrowService
	pix       *services.PixService
	validator *services.ValidationHelper
}

func NewPaymentHandler(escrow *services.EscrowService, pix *services.PixService) *PaymentHandler {
	return &PaymentHandler{
		escrow:    escrow,
		pix:       pix,
		validator: services.NewValidationHelper(),
	}
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// InvalidStateError carries the transaction's current status so the caller
// can see why the operation was refused.
func writeServiceError(w http.ResponseWriter, err error) {
	var notFound *services.NotFoundError
	var invalidState *services.InvalidStateError
	var conflict *services.ConflictError
	var external *services.ExternalServiceError

	switch {
	case errors.As(err, &notFound):
		services.SendErrorResponse(w, notFound.Error(), http.StatusNotFound, nil)
	case errors.As(err, &invalidState):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error":         invalidState.Error(),
			"currentStatus": invalidState.Current,
		})
	case errors.As(err, &conflict):
		services.SendErrorResponse(w, conflict.Error(), http.StatusConflict, nil)
	case errors.As(err, &external):
		services.SendErrorResponse(w, "Payment processor unavailable", http.StatusBadGateway, nil)
	default:
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

// CreatePayment creates an escrow payment for a service
// @Summary Create a payment
// @Description Create an escrow payment; card methods capture immediately, pix responses include a QR charge
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payment body services.CreatePaymentInput true "Payment data"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /payments [post]
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req services.CreatePaymentInput

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

	if !req.PaymentMethod.Valid() {
		services.SendErrorResponse(w, "Unsupported payment method", http.StatusBadRequest, nil)
		return
	}

	tx, err := h.escrow.CreatePayment(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := map[string]any{
		"success":     true,
		"transaction": tx,
	}

	if tx.PaymentMethod == models.MethodPix && tx.Status == models.StatusPending {
		charge, err := h.pix.CreateCharge(r.Context(), tx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response["pix"] = charge
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// GetTransaction fetches a transaction by id
// @Summary Get transaction
// @Description Retrieve a transaction by its ID
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{txId} [get]
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	tx, err := h.escrow.GetTransaction(r.Context(), txID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

// ListTransactions lists transactions with optional filters
// @Summary List transactions
// @Description Get transactions filtered by status and payer
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Param payerId query string false "Filter by payer"
// @Param limit query int false "Page size (default 50, max 100)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /payments [get]
func (h *PaymentHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		services.SendErrorResponse(w, "Unknown status filter", http.StatusBadRequest, nil)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	transactions, err := h.escrow.ListTransactions(r.Context(), status, r.URL.Query().Get("payerId"), limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// ReleasePayment releases held funds to the technician
// @Summary Release payment
// @Description Release a retained payment after the customer confirms the service
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Param release body object{reason=string} false "Release reason, defaults to customer_confirmation"
// @Success 200 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /payments/{txId}/release [post]
func (h *PaymentHandler) ReleasePayment(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	reason := models.ReasonCustomerConfirmation
	if r.ContentLength > 0 {
		var req struct {
			Reason models.ReleaseReason `json:"reason"`
		}

		r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()

		if err := dec.Decode(&req); err != nil {
			services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
		if req.Reason != "" {
			if !req.Reason.Valid() {
				services.SendErrorResponse(w, "Unknown release reason", http.StatusBadRequest, nil)
				return
			}
			reason = req.Reason
		}
	}

	tx, err := h.escrow.RequestRelease(r.Context(), txID, reason)
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
