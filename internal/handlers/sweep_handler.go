package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/techfix/backend/internal/services"
)

type SweepHandler struct {
	escrow *services.EscrowService
}

func NewSweepHandler(escrow *services.EscrowService) *SweepHandler {
	return &SweepHandler{escrow: escrow}
}

// RunSweep triggers an automatic release pass
// @Summary Run release sweep
// @Description Release all retained payments whose holding window has elapsed
// @Tags sweep
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.SweepSummary
// @Failure 500 {object} services.ErrorResponse
// @Router /sweep/run [post]
func (h *SweepHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.escrow.RunAutomaticReleaseSweep(r.Context(), time.Now())
	if err != nil {
		services.SendErrorResponse(w, "Sweep failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
