package models

import (
	"time"
)

// Status is the escrow lifecycle state of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetained  Status = "retained"
	StatusReleased  Status = "released"
	StatusContested Status = "contested"
	StatusCancelled Status = "cancelled"
)

// transitions lists the permitted next states for each state.
var transitions = map[Status][]Status{
	StatusPending:   {StatusRetained, StatusCancelled},
	StatusRetained:  {StatusReleased, StatusContested},
	StatusContested: {StatusReleased, StatusCancelled},
	StatusReleased:  {},
	StatusCancelled: {},
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// PaymentMethod is how the payer funds the escrow hold.
type PaymentMethod string

const (
	MethodPix        PaymentMethod = "pix"
	MethodBoleto     PaymentMethod = "boleto"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodDebitCard  PaymentMethod = "debit_card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodPix, MethodBoleto, MethodCreditCard, MethodDebitCard:
		return true
	}
	return false
}

// Synchronous reports whether capture is attempted inline on creation.
// pix and boleto wait for the payer, confirmed later via webhook.
func (m PaymentMethod) Synchronous() bool {
	return m == MethodCreditCard || m == MethodDebitCard
}

// ReleaseReason tags what triggered a release attempt.
type ReleaseReason string

const (
	ReasonAutomaticTimer       ReleaseReason = "automatic_timer"
	ReasonCustomerConfirmation ReleaseReason = "customer_confirmation"
	ReasonManual               ReleaseReason = "manual"
)

func (r ReleaseReason) Valid() bool {
	switch r {
	case ReasonAutomaticTimer, ReasonCustomerConfirmation, ReasonManual:
		return true
	}
	return false
}

// DisputeOutcome is the manual resolution of a contested transaction.
type DisputeOutcome string

const (
	OutcomeFavorPayee DisputeOutcome = "favor_payee"
	OutcomeFavorPayer DisputeOutcome = "favor_payer"
)

func (o DisputeOutcome) Valid() bool {
	return o == OutcomeFavorPayee || o == OutcomeFavorPayer
}

// Transaction is an escrow payment for a marketplace service.
type Transaction struct {
	ID                string        `json:"id" db:"id"`
	PayerID           string        `json:"payer_id" db:"payer_id"`
	PayeeID           string        `json:"payee_id" db:"payee_id"`
	ServiceID         string        `json:"service_id" db:"service_id"`
	Amount            int64         `json:"amount" db:"amount"` // in cents
	Currency          string        `json:"currency" db:"currency"`
	PaymentMethod     PaymentMethod `json:"payment_method" db:"payment_method"`
	Status            Status        `json:"status" db:"status"`
	CaptureRef        string        `json:"capture_ref,omitempty" db:"capture_ref"`
	ReleaseReason     ReleaseReason `json:"release_reason,omitempty" db:"release_reason"`
	DisputeReason     string        `json:"dispute_reason,omitempty" db:"dispute_reason"`
	PaidAt            *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	ReleaseEligibleAt *time.Time    `json:"release_eligible_at,omitempty" db:"release_eligible_at"`
	ReleasedAt        *time.Time    `json:"released_at,omitempty" db:"released_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}
