package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/techfix/backend/internal/audit"
	"github.com/techfix/backend/internal/models"
	"github.com/techfix/backend/internal/processor"
)

// EscrowService owns the payment lifecycle: funds are captured from the
// payer, held, and released to the technician after confirmation or the
// holding window. All state lives in the transactions table; every
// transition is a conditional update on the current status, so concurrent
// attempts resolve to exactly one winner.
type EscrowService struct {
	db             *sql.DB
	redis          *redis.Client
	processor      processor.Processor
	audit          *audit.Logger
	settlement     *SettlementService
	holdingWindow  time.Duration
	sweepBatchSize int
}

func NewEscrowService(db *sql.DB, redisClient *redis.Client, proc processor.Processor) *EscrowService {
	viper.SetDefault("escrow.holding_window", 24*time.Hour)
	viper.SetDefault("escrow.sweep_batch_size", 100)

	return &EscrowService{
		db:             db,
		redis:          redisClient,
		processor:      proc,
		audit:          audit.NewLogger(),
		settlement:     NewSettlementService(),
		holdingWindow:  viper.GetDuration("escrow.holding_window"),
		sweepBatchSize: viper.GetInt("escrow.sweep_batch_size"),
	}
}

type CreatePaymentInput struct {
	PayerID       string               `json:"payerId" validate:"required"`
	PayeeID       string               `json:"payeeId" validate:"required"`
	ServiceID     string               `json:"serviceId" validate:"required"`
	Amount        int64                `json:"amount" validate:"required,gt=0"`
	Currency      string               `json:"currency" validate:"required,len=3"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod" validate:"required"`
}

// CreatePayment persists a pending transaction. Card methods capture
// synchronously: a confirmed capture retains the funds, a decline cancels.
// pix and boleto stay pending until the processor webhook confirms. A
// processor transport failure leaves the row pending and is surfaced so the
// caller can retry; the webhook may still confirm the capture later.
func (s *EscrowService) CreatePayment(ctx context.Context, in *CreatePaymentInput) (*models.Transaction, error) {
	if !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("unsupported payment method %q", in.PaymentMethod)
	}

	now := time.Now()
	tx := &models.Transaction{
		ID:            uuid.New().String(),
		PayerID:       in.PayerID,
		PayeeID:       in.PayeeID,
		ServiceID:     in.ServiceID,
		Amount:        in.Amount,
		Currency:      strings.ToUpper(in.Currency),
		PaymentMethod: in.PaymentMethod,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO transactions
        (id, payer_id, payee_id, service_id, amount, currency, payment_method, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
    `, tx.ID, tx.PayerID, tx.PayeeID, tx.ServiceID, tx.Amount, tx.Currency, tx.PaymentMethod, tx.Status, now)
	if err != nil {
		return nil, fmt.Errorf("store transaction: %w", err)
	}

	if !in.PaymentMethod.Synchronous() {
		log.Printf("[ESCROW] Transaction %s pending %s confirmation", tx.ID, tx.PaymentMethod)
		return tx, nil
	}

	result, err := s.processor.Capture(ctx, tx.PaymentMethod, tx.Amount, tx.PayerID, tx.ID)
	if err != nil {
		s.audit.LogError(tx.ID, err)
		return nil, &ExternalServiceError{Op: "capture", Err: err}
	}

	switch result.Status {
	case processor.CaptureConfirmed:
		return s.ConfirmCapture(ctx, tx.ID, result.CaptureRef, true)
	case processor.CaptureDeclined:
		return s.ConfirmCapture(ctx, tx.ID, result.CaptureRef, false)
	default:
		return tx, nil
	}
}

// ConfirmCapture applies the processor's capture outcome: pending becomes
// retained with the holding window stamped, or cancelled on a decline.
// A second delivery of the same confirmation finds the transaction already
// moved on and gets InvalidStateError, which webhook callers treat as a
// harmless duplicate.
func (s *EscrowService) ConfirmCapture(ctx context.Context, id, captureRef string, ok bool) (*models.Transaction, error) {
	now := time.Now()

	var result sql.Result
	var err error
	if ok {
		eligible := now.Add(s.holdingWindow)
		result, err = s.db.ExecContext(ctx, `
            UPDATE transactions
            SET status = $1, capture_ref = $2, paid_at = $3, release_eligible_at = $4, updated_at = $3
            WHERE id = $5 AND status = $6
        `, models.StatusRetained, captureRef, now, eligible, id, models.StatusPending)
	} else {
		result, err = s.db.ExecContext(ctx, `
            UPDATE transactions
            SET status = $1, capture_ref = $2, updated_at = $3
            WHERE id = $4 AND status = $5
        `, models.StatusCancelled, captureRef, now, id, models.StatusPending)
	}
	if err != nil {
		return nil, fmt.Errorf("apply capture outcome: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidStateError{Op: "capture confirmation", Current: tx.Status}
	}

	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if ok {
		s.audit.LogCapture(id, captureRef, tx.Amount)
		s.notify(ctx, "payment.retained", tx)
	} else {
		log.Printf("[ESCROW] Capture declined for transaction %s", id)
		s.notify(ctx, "payment.cancelled", tx)
	}

	return tx, nil
}

// RequestRelease moves a retained transaction to released and transfers the
// held funds to the payee. The status update and the transfer succeed or
// fail as one unit: the update commits only after the processor confirms,
// so a failed or timed-out transfer leaves the row retained for the next
// sweep attempt.
func (s *EscrowService) RequestRelease(ctx context.Context, id string, reason models.ReleaseReason) (*models.Transaction, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("unknown release reason %q", reason)
	}

	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.StatusRetained {
		return nil, &InvalidStateError{Op: "release", Current: tx.Status}
	}

	now := time.Now()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin release: %w", err)
	}
	defer dbTx.Rollback()

	result, err := dbTx.ExecContext(ctx, `
        UPDATE transactions
        SET status = $1, released_at = $2, release_reason = $3, updated_at = $2
        WHERE id = $4 AND status = $5
    `, models.StatusReleased, now, reason, id, models.StatusRetained)
	if err != nil {
		return nil, fmt.Errorf("mark released: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, &ConflictError{TransactionID: id}
	}

	if err := s.processor.Transfer(ctx, tx.PayeeID, tx.Amount, tx.ID); err != nil {
		s.audit.LogError(id, err)
		return nil, &ExternalServiceError{Op: "transfer", Err: err}
	}

	if err := dbTx.Commit(); err != nil {
		// The transfer is confirmed but the row stayed retained. The next
		// attempt re-sends with the same idempotency key, so funds cannot
		// move twice; flag for reconciliation anyway.
		s.audit.LogReconciliation(id, "transfer confirmed but release commit failed")
		return nil, fmt.Errorf("commit release: %w", err)
	}

	tx.Status = models.StatusReleased
	tx.ReleasedAt = &now
	tx.ReleaseReason = reason
	tx.UpdatedAt = now

	s.audit.LogRelease(tx.ID, tx.PayeeID, string(reason), tx.Amount)
	s.notify(ctx, "payment.released", tx)

	if err := s.settlement.ExportRelease(tx); err != nil {
		log.Printf("[ESCROW] Settlement export failed for %s: %v", tx.ID, err)
		s.audit.LogReconciliation(tx.ID, "settlement export failed")
	}

	return tx, nil
}

// OpenDispute freezes a retained transaction pending manual resolution.
func (s *EscrowService) OpenDispute(ctx context.Context, id, reason string) (*models.Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("dispute reason is required")
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
        UPDATE transactions
        SET status = $1, dispute_reason = $2, updated_at = $3
        WHERE id = $4 AND status = $5
    `, models.StatusContested, reason, now, id, models.StatusRetained)
	if err != nil {
		return nil, fmt.Errorf("open dispute: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &InvalidStateError{Op: "dispute", Current: tx.Status}
	}

	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	s.audit.LogDispute(id, "OPENED", reason)
	s.notify(ctx, "payment.contested", tx)
	return tx, nil
}

// ResolveDispute settles a contested transaction exactly once: favor_payee
// releases the funds, favor_payer refunds them. A second call fails with
// InvalidStateError; corrections go through manual review, never a silent
// retry of a funds movement.
func (s *EscrowService) ResolveDispute(ctx context.Context, id string, outcome models.DisputeOutcome) (*models.Transaction, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("unknown dispute outcome %q", outcome)
	}

	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.StatusContested {
		return nil, &InvalidStateError{Op: "dispute resolution", Current: tx.Status}
	}

	now := time.Now()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin resolution: %w", err)
	}
	defer dbTx.Rollback()

	var result sql.Result
	if outcome == models.OutcomeFavorPayee {
		result, err = dbTx.ExecContext(ctx, `
            UPDATE transactions
            SET status = $1, released_at = $2, release_reason = $3, updated_at = $2
            WHERE id = $4 AND status = $5
        `, models.StatusReleased, now, models.ReasonManual, id, models.StatusContested)
	} else {
		result, err = dbTx.ExecContext(ctx, `
            UPDATE transactions
            SET status = $1, updated_at = $2
            WHERE id = $3 AND status = $4
        `, models.StatusCancelled, now, id, models.StatusContested)
	}
	if err != nil {
		return nil, fmt.Errorf("apply resolution: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, &ConflictError{TransactionID: id}
	}

	if outcome == models.OutcomeFavorPayee {
		if err := s.processor.Transfer(ctx, tx.PayeeID, tx.Amount, tx.ID); err != nil {
			s.audit.LogError(id, err)
			return nil, &ExternalServiceError{Op: "transfer", Err: err}
		}
	} else {
		if err := s.processor.Refund(ctx, tx.PayerID, tx.Amount, tx.ID); err != nil {
			s.audit.LogError(id, err)
			return nil, &ExternalServiceError{Op: "refund", Err: err}
		}
	}

	if err := dbTx.Commit(); err != nil {
		s.audit.LogReconciliation(id, "funds moved but resolution commit failed")
		return nil, fmt.Errorf("commit resolution: %w", err)
	}

	if outcome == models.OutcomeFavorPayee {
		tx.Status = models.StatusReleased
		tx.ReleasedAt = &now
		tx.ReleaseReason = models.ReasonManual
		s.audit.LogRelease(tx.ID, tx.PayeeID, "dispute_resolution", tx.Amount)
		s.notify(ctx, "payment.released", tx)

		if err := s.settlement.ExportRelease(tx); err != nil {
			log.Printf("[ESCROW] Settlement export failed for %s: %v", tx.ID, err)
			s.audit.LogReconciliation(tx.ID, "settlement export failed")
		}
	} else {
		tx.Status = models.StatusCancelled
		s.audit.LogRefund(tx.ID, tx.PayerID, tx.Amount)
		s.notify(ctx, "payment.cancelled", tx)
	}
	tx.UpdatedAt = now

	s.audit.LogDispute(id, "RESOLVED", string(outcome))
	return tx, nil
}

// SweepSummary reports one automatic release pass.
type SweepSummary struct {
	Eligible int `json:"eligible"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// RunAutomaticReleaseSweep releases every retained transaction whose holding
// window has elapsed as of now. Each item is its own transactional unit; a
// failing transfer or a lost race on one transaction never blocks the rest.
// The batch is bounded, the scheduler's next tick picks up the remainder.
func (s *EscrowService) RunAutomaticReleaseSweep(ctx context.Context, now time.Time) (*SweepSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id FROM transactions
        WHERE status = $1 AND release_eligible_at <= $2
        ORDER BY release_eligible_at
        LIMIT $3
    `, models.StatusRetained, now, s.sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("query eligible transactions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary := &SweepSummary{Eligible: len(ids)}
	for _, id := range ids {
		_, err := s.RequestRelease(ctx, id, models.ReasonAutomaticTimer)

		var invalidState *InvalidStateError
		var conflict *ConflictError
		switch {
		case err == nil:
			summary.Released++
		case errors.As(err, &invalidState), errors.As(err, &conflict):
			// Someone else released, disputed or resolved it between the
			// query and our attempt. Nothing to do.
			summary.Skipped++
		default:
			summary.Failed++
			log.Printf("[SWEEP] Release failed for transaction %s: %v", id, err)
		}
	}

	log.Printf("[SWEEP] eligible=%d released=%d skipped=%d failed=%d",
		summary.Eligible, summary.Released, summary.Skipped, summary.Failed)
	return summary, nil
}

// GetTransaction fetches a single transaction by id.
func (s *EscrowService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	err := s.db.QueryRowContext(ctx, `
        SELECT id, payer_id, payee_id, service_id, amount, currency, payment_method, status,
               COALESCE(capture_ref, ''), COALESCE(release_reason, ''), COALESCE(dispute_reason, ''),
               paid_at, release_eligible_at, released_at, created_at, updated_at
        FROM transactions
        WHERE id = $1
    `, id).Scan(
		&tx.ID, &tx.PayerID, &tx.PayeeID, &tx.ServiceID, &tx.Amount, &tx.Currency,
		&tx.PaymentMethod, &tx.Status, &tx.CaptureRef, &tx.ReleaseReason, &tx.DisputeReason,
		&tx.PaidAt, &tx.ReleaseEligibleAt, &tx.ReleasedAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{TransactionID: id}
		}
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions returns transactions matching the optional filters,
// newest first.
func (s *EscrowService) ListTransactions(ctx context.Context, status models.Status, payerID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	query := `
        SELECT id, payer_id, payee_id, service_id, amount, currency, payment_method, status,
               COALESCE(capture_ref, ''), COALESCE(release_reason, ''), COALESCE(dispute_reason, ''),
               paid_at, release_eligible_at, released_at, created_at, updated_at
        FROM transactions
    `

	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	if payerID != "" {
		conditions = append(conditions, fmt.Sprintf("payer_id = $%d", argIndex))
		args = append(args, payerID)
		argIndex++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		tx := models.Transaction{}
		err := rows.Scan(
			&tx.ID, &tx.PayerID, &tx.PayeeID, &tx.ServiceID, &tx.Amount, &tx.Currency,
			&tx.PaymentMethod, &tx.Status, &tx.CaptureRef, &tx.ReleaseReason, &tx.DisputeReason,
			&tx.PaidAt, &tx.ReleaseEligibleAt, &tx.ReleasedAt, &tx.CreatedAt, &tx.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func (s *EscrowService) notify(ctx context.Context, event string, tx *models.Transaction) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(map[string]any{
		"event":         event,
		"transactionId": tx.ID,
		"payerId":       tx.PayerID,
		"payeeId":       tx.PayeeID,
		"amount":        tx.Amount,
		"status":        tx.Status,
		"timestamp":     time.Now().Unix(),
	})
	if err != nil {
		return
	}

	if err := s.redis.RPush(ctx, "escrow_events", data).Err(); err != nil {
		log.Printf("[ESCROW] Failed to queue %s notification for %s: %v", event, tx.ID, err)
	}
}
