package services

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/techfix/backend/internal/models"
	"github.com/techfix/backend/internal/processor"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Capture(ctx context.Context, method models.PaymentMethod, amount int64, payerRef, transactionID string) (*processor.CaptureResult, error) {
	args := m.Called(ctx, method, amount, payerRef, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*processor.CaptureResult), args.Error(1)
}

func (m *MockProcessor) Transfer(ctx context.Context, payeeRef string, amount int64, transactionID string) error {
	args := m.Called(ctx, payeeRef, amount, transactionID)
	return args.Error(0)
}

func (m *MockProcessor) Refund(ctx context.Context, payerRef string, amount int64, transactionID string) error {
	args := m.Called(ctx, payerRef, amount, transactionID)
	return args.Error(0)
}
