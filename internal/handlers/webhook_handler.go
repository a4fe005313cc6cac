package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/spf13/viper"
	"github.com/techfix/backend/internal/services"
)

// WebhookHandler receives capture confirmations from the payment processor.
// Delivery is at-least-once; a duplicate finds the transaction already moved
// on and is acknowledged without mutation.
type WebhookHandler struct {
	escrow *services.EscrowService
}

func NewWebhookHandler(escrow *services.EscrowService) *WebhookHandler {
	return &WebhookHandler{escrow: escrow}
}

// ProcessorEvent handles a processor capture notification
// @Summary Processor webhook
// @Description HMAC-verified capture confirmation from the payment processor
// @Tags webhooks
// @Accept json
// @Produce json
// @Param event body object{transactionId=string,event=string,captureRef=string} true "Processor event"
// @Success 200 {object} object{received=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/processor [post]
func (h *WebhookHandler) ProcessorEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if !verifySignature(body, r.Header.Get("X-Processor-Signature")) {
		log.Printf("[WEBHOOK] Signature verification failed from %s", r.RemoteAddr)
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var event struct {
		TransactionID string `json:"transactionId"`
		Event         string `json:"event"`
		CaptureRef    string `json:"captureRef"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if event.TransactionID == "" {
		services.SendErrorResponse(w, "transactionId is required", http.StatusBadRequest, nil)
		return
	}

	var ok bool
	switch event.Event {
	case "capture.confirmed":
		ok = true
	case "capture.declined":
		ok = false
	default:
		services.SendErrorResponse(w, "Unknown event type", http.StatusBadRequest, nil)
		return
	}

	_, err = h.escrow.ConfirmCapture(r.Context(), event.TransactionID, event.CaptureRef, ok)
	if err != nil {
		var invalidState *services.InvalidStateError
		if errors.As(err, &invalidState) {
			// Duplicate delivery; the transaction already left pending.
			log.Printf("[WEBHOOK] Duplicate %s for transaction %s (now %s)",
				event.Event, event.TransactionID, invalidState.Current)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"received": true, "duplicate": true})
			return
		}
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"received": true})
}

func verifySignature(body []byte, signature string) bool {
	secret := viper.GetString("processor.webhook_secret")
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
