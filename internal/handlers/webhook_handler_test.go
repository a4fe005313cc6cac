package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/techfix/backend/internal/models"
	"github.com/techfix/backend/internal/services"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newWebhookTest(t *testing.T) (*WebhookHandler, sqlmock.Sqlmock, func()) {
	viper.Set("processor.webhook_secret", "test-webhook-secret")

	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)

	escrow := services.NewEscrowService(db, nil, &stubProcessor{})
	handler := NewWebhookHandler(escrow)

	return handler, dbMock, func() {
		db.Close()
		viper.Set("processor.webhook_secret", "")
	}
}

func TestWebhookHandler_ProcessorEvent(t *testing.T) {
	t.Run("missing signature rejected", func(t *testing.T) {
		handler, _, cleanup := newWebhookTest(t)
		defer cleanup()

		body, _ := json.Marshal(map[string]string{
			"transactionId": "tx-1",
			"event":         "capture.confirmed",
			"captureRef":    "cap-1",
		})
		req := httptest.NewRequest("POST", "/webhooks/processor", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.ProcessorEvent(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		handler, _, cleanup := newWebhookTest(t)
		defer cleanup()

		body, _ := json.Marshal(map[string]string{
			"transactionId": "tx-1",
			"event":         "capture.confirmed",
			"captureRef":    "cap-1",
		})
		signature := signBody("test-webhook-secret", []byte(`{"transactionId":"other"}`))

		req := httptest.NewRequest("POST", "/webhooks/processor", bytes.NewBuffer(body))
		req.Header.Set("X-Processor-Signature", signature)
		w := httptest.NewRecorder()

		handler.ProcessorEvent(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("capture confirmed retains the transaction", func(t *testing.T) {
		handler, dbMock, cleanup := newWebhookTest(t)
		defer cleanup()

		dbMock.ExpectExec("UPDATE transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))

		now := time.Now()
		dbMock.ExpectQuery("SELECT id, payer_id, payee_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "payer_id", "payee_id", "service_id", "amount", "currency",
				"payment_method", "status", "capture_ref", "release_reason", "dispute_reason",
				"paid_at", "release_eligible_at", "released_at", "created_at", "updated_at",
			}).AddRow(
				"tx-1", "customer-1", "tech-1", "service-1", 10000, "BRL",
				models.MethodPix, models.StatusRetained, "cap-1", "", "",
				&now, &now, nil, now, now,
			))

		body, _ := json.Marshal(map[string]string{
			"transactionId": "tx-1",
			"event":         "capture.confirmed",
			"captureRef":    "cap-1",
		})
		req := httptest.NewRequest("POST", "/webhooks/processor", bytes.NewBuffer(body))
		req.Header.Set("X-Processor-Signature", signBody("test-webhook-secret", body))
		w := httptest.NewRecorder()

		handler.ProcessorEvent(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["received"])
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("duplicate delivery acknowledged without mutation", func(t *testing.T) {
		handler, dbMock, cleanup := newWebhookTest(t)
		defer cleanup()

		dbMock.ExpectExec("UPDATE transactions").
			WillReturnResult(sqlmock.NewResult(0, 0))

		now := time.Now()
		dbMock.ExpectQuery("SELECT id, payer_id, payee_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "payer_id", "payee_id", "service_id", "amount", "currency",
				"payment_method", "status", "capture_ref", "release_reason", "dispute_reason",
				"paid_at", "release_eligible_at", "released_at", "created_at", "updated_at",
			}).AddRow(
				"tx-1", "customer-1", "tech-1", "service-1", 10000, "BRL",
				models.MethodPix, models.StatusRetained, "cap-1", "", "",
				&now, &now, nil, now, now,
			))

		body, _ := json.Marshal(map[string]string{
			"transactionId": "tx-1",
			"event":         "capture.confirmed",
			"captureRef":    "cap-1",
		})
		req := httptest.NewRequest("POST", "/webhooks/processor", bytes.NewBuffer(body))
		req.Header.Set("X-Processor-Signature", signBody("test-webhook-secret", body))
		w := httptest.NewRecorder()

		handler.ProcessorEvent(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["received"])
		assert.Equal(t, true, resp["duplicate"])
	})

	t.Run("unknown event type", func(t *testing.T) {
		handler, _, cleanup := newWebhookTest(t)
		defer cleanup()

		body, _ := json.Marshal(map[string]string{
			"transactionId": "tx-1",
			"event":         "capture.exploded",
		})
		req := httptest.NewRequest("POST", "/webhooks/processor", bytes.NewBuffer(body))
		req.Header.Set("X-Processor-Signature", signBody("test-webhook-secret", body))
		w := httptest.NewRecorder()

		handler.ProcessorEvent(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
