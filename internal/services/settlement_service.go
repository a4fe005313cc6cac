package services

import (
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"
	"github.com/techfix/backend/internal/models"
)

// SettlementService exports released transfers to the settlement system as
// ISO 20022 pacs.008 credit-transfer messages. Export runs after the release
// commits; a failed export never rolls a release back, it is flagged for
// reconciliation instead.
type SettlementService struct {
	institutionBIC string
}

func NewSettlementService() *SettlementService {
	viper.SetDefault("settlement.institution_bic", "TCHFBRSP")

	return &SettlementService{
		institutionBIC: viper.GetString("settlement.institution_bic"),
	}
}

// ExportRelease converts a released transaction and hands it to the
// settlement system.
func (s *SettlementService) ExportRelease(tx *models.Transaction) error {
	if tx.Status != models.StatusReleased {
		return fmt.Errorf("transaction %s is not released", tx.ID)
	}

	doc, err := s.createPacs008(tx)
	if err != nil {
		return err
	}

	return s.sendToSettlement(tx.ID, doc)
}

func (s *SettlementService) createPacs008(tx *models.Transaction) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgID := uuid.New().String()
	now := time.Now()
	amount := float64(tx.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(tx.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(tx.ID)}[0],
					EndToEndId: common.Max35Text(tx.ServiceID),
					TxId:       &[]common.Max35Text{common.Max35Text(tx.ID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(tx.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.institutionBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.PayerID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.institutionBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(tx.PayeeID)}[0],
				},
			},
		},
	}

	return doc, nil
}

func (s *SettlementService) sendToSettlement(transactionID string, doc any) error {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settlement message: %w", err)
	}

	// TODO: replace with the clearing partner's SFTP drop once credentials land
	log.Printf("[SETTLEMENT] pacs.008 for transaction %s (%d bytes)", transactionID, len(xmlData))
	return nil
}
