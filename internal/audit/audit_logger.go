package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount,omitempty"`
	Details       any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogCapture(transactionID, captureRef string, amount int64) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "CAPTURE",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]string{"capture_ref": captureRef},
	})
}

func (a *Logger) LogRelease(transactionID, payeeRef, reason string, amount int64) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "RELEASE",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details: map[string]string{
			"payee_ref": payeeRef,
			"reason":    reason,
		},
	})
}

func (a *Logger) LogRefund(transactionID, payerRef string, amount int64) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "REFUND",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]string{"payer_ref": payerRef},
	})
}

func (a *Logger) LogDispute(transactionID, action, detail string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "DISPUTE",
		TransactionID: transactionID,
		Status:        action,
		Details:       map[string]string{"detail": detail},
	})
}

func (a *Logger) LogError(transactionID string, err error) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

// LogReconciliation records an outcome mismatch between the local store and
// the processor that needs manual review.
func (a *Logger) LogReconciliation(transactionID, detail string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "RECONCILE",
		TransactionID: transactionID,
		Status:        "REVIEW",
		Details:       map[string]string{"detail": detail},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
