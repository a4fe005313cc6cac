package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/techfix/backend/internal/models"
	"github.com/techfix/backend/internal/processor"
	"github.com/techfix/backend/internal/services"
)

// stubProcessor confirms every capture and never fails a movement.
// Handler tests only exercise the HTTP surface, not processor behavior.
type stubProcessor struct{}

func (s *stubProcessor) Capture(_ context.Context, _ models.PaymentMethod, _ int64, _, transactionID string) (*processor.CaptureResult, error) {
	return &processor.CaptureResult{Status: processor.CaptureConfirmed, CaptureRef: "cap-" + transactionID}, nil
}

func (s *stubProcessor) Transfer(context.Context, string, int64, string) error { return nil }

func (s *stubProcessor) Refund(context.Context, string, int64, string) error { return nil }

func newTestRouter(t *testing.T) (*chi.Mux, sqlmock.Sqlmock, func()) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)

	escrow := services.NewEscrowService(db, nil, &stubProcessor{})
	handler := NewPaymentHandler(escrow, services.NewPixService(nil))

	r := chi.NewRouter()
	r.Post("/payments", handler.CreatePayment)
	r.Get("/payments/{txId}", handler.GetTransaction)
	r.Get("/payments", handler.ListTransactions)
	r.Post("/payments/{txId}/release", handler.ReleasePayment)

	return r, dbMock, func() { db.Close() }
}

func TestPaymentHandler_CreatePayment(t *testing.T) {
	t.Run("invalid request body", func(t *testing.T) {
		r, _, cleanup := newTestRouter(t)
		defer cleanup()

		req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		r, _, cleanup := newTestRouter(t)
		defer cleanup()

		body, _ := json.Marshal(map[string]any{"payerId": "customer-1"})
		req := httptest.NewRequest("POST", "/payments", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp services.ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Validation failed", resp.Error)
	})

	t.Run("unsupported payment method", func(t *testing.T) {
		r, _, cleanup := newTestRouter(t)
		defer cleanup()

		body, _ := json.Marshal(map[string]any{
			"payerId":       "customer-1",
			"payeeId":       "tech-1",
			"serviceId":     "service-1",
			"amount":        10000,
			"currency":      "BRL",
			"paymentMethod": "cash",
		})
		req := httptest.NewRequest("POST", "/payments", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("boleto payment created pending", func(t *testing.T) {
		r, dbMock, cleanup := newTestRouter(t)
		defer cleanup()

		dbMock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(map[string]any{
			"payerId":       "customer-1",
			"payeeId":       "tech-1",
			"serviceId":     "service-1",
			"amount":        10000,
			"currency":      "BRL",
			"paymentMethod": "boleto",
		})
		req := httptest.NewRequest("POST", "/payments", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp struct {
			Success     bool               `json:"success"`
			Transaction models.Transaction `json:"transaction"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, models.StatusPending, resp.Transaction.Status)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestPaymentHandler_GetTransaction(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		r, dbMock, cleanup := newTestRouter(t)
		defer cleanup()

		dbMock.ExpectQuery("SELECT id, payer_id, payee_id").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/payments/missing", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("found", func(t *testing.T) {
		r, dbMock, cleanup := newTestRouter(t)
		defer cleanup()

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

		req := httptest.NewRequest("GET", "/payments/tx-1", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var tx models.Transaction
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
		assert.Equal(t, models.StatusRetained, tx.Status)
		assert.Equal(t, int64(10000), tx.Amount)
	})
}

func TestPaymentHandler_ReleasePayment(t *testing.T) {
	t.Run("invalid state reports the current status", func(t *testing.T) {
		r, dbMock, cleanup := newTestRouter(t)
		defer cleanup()

		now := time.Now()
		dbMock.ExpectQuery("SELECT id, payer_id, payee_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "payer_id", "payee_id", "service_id", "amount", "currency",
				"payment_method", "status", "capture_ref", "release_reason", "dispute_reason",
				"paid_at", "release_eligible_at", "released_at", "created_at", "updated_at",
			}).AddRow(
				"tx-1", "customer-1", "tech-1", "service-1", 10000, "BRL",
				models.MethodPix, models.StatusReleased, "cap-1", "automatic_timer", "",
				&now, &now, &now, now, now,
			))

		req := httptest.NewRequest("POST", "/payments/tx-1/release", nil)
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "released", resp["currentStatus"])
	})

	t.Run("unknown release reason", func(t *testing.T) {
		r, _, cleanup := newTestRouter(t)
		defer cleanup()

		body, _ := json.Marshal(map[string]string{"reason": "felt_like_it"})
		req := httptest.NewRequest("POST", "/payments/tx-1/release", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
