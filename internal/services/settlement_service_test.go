package services

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/techfix/backend/internal/models"
)

func releasedTransaction() *models.Transaction {
	now := time.Now()
	return &models.Transaction{
		ID:            "tx-1",
		PayerID:       "customer-1",
		PayeeID:       "tech-1",
		ServiceID:     "service-1",
		Amount:        10000,
		Currency:      "BRL",
		PaymentMethod: models.MethodPix,
		Status:        models.StatusReleased,
		ReleasedAt:    &now,
	}
}

func TestSettlementService_ExportRelease(t *testing.T) {
	service := NewSettlementService()

	t.Run("exports a released transaction", func(t *testing.T) {
		assert.NoError(t, service.ExportRelease(releasedTransaction()))
	})

	t.Run("refuses unreleased transactions", func(t *testing.T) {
		tx := releasedTransaction()
		tx.Status = models.StatusRetained

		assert.Error(t, service.ExportRelease(tx))
	})
}

func TestSettlementService_CreatePacs008(t *testing.T) {
	service := NewSettlementService()

	doc, err := service.createPacs008(releasedTransaction())
	assert.NoError(t, err)

	assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
	assert.Len(t, doc.CdtTrfTxInf, 1)

	tx := doc.CdtTrfTxInf[0]
	assert.Equal(t, "tx-1", string(*tx.PmtId.TxId))
	assert.Equal(t, "service-1", string(tx.PmtId.EndToEndId))
	assert.Equal(t, "BRL", string(tx.IntrBkSttlmAmt.Ccy))
	assert.Equal(t, 100.0, tx.IntrBkSttlmAmt.Value)
	assert.Equal(t, "customer-1", string(*tx.Dbtr.Nm))
	assert.Equal(t, "tech-1", string(*tx.Cdtr.Nm))

	// the document marshals to valid XML
	data, err := xml.Marshal(doc)
	assert.NoError(t, err)
	assert.Contains(t, string(data), "tx-1")
}
