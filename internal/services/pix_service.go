package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
	"github.com/techfix/backend/internal/models"
)

// PixService issues the copy-paste code and QR image a payer scans to fund
// a pending pix transaction.
type PixService struct {
	redis    *redis.Client
	pixKey   string
	merchant string
	ttl      time.Duration
}

func NewPixService(redisClient *redis.Client) *PixService {
	viper.SetDefault("pix.key", "pagamentos@techfix.example.com")
	viper.SetDefault("pix.merchant_name", "TECHFIX SERVICOS")
	viper.SetDefault("pix.charge_ttl", 30*time.Minute)

	return &PixService{
		redis:    redisClient,
		pixKey:   viper.GetString("pix.key"),
		merchant: viper.GetString("pix.merchant_name"),
		ttl:      viper.GetDuration("pix.charge_ttl"),
	}
}

// PixCharge is what the client renders for the payer.
type PixCharge struct {
	Code      string `json:"code"`
	QRImage   string `json:"qrImage"` // base64 PNG
	ExpiresAt int64  `json:"expiresAt"`
}

// CreateCharge builds the pix payload for a pending transaction, caches it
// so repeated fetches return the same charge, and renders the QR image.
func (s *PixService) CreateCharge(ctx context.Context, tx *models.Transaction) (*PixCharge, error) {
	if tx.PaymentMethod != models.MethodPix {
		return nil, fmt.Errorf("transaction %s is not a pix payment", tx.ID)
	}
	if tx.Status != models.StatusPending {
		return nil, &InvalidStateError{Op: "pix charge", Current: tx.Status}
	}

	expiresAt := time.Now().Add(s.ttl)
	code := s.buildPayload(tx)

	if s.redis != nil {
		cached, err := s.redis.Get(ctx, s.chargeKey(tx.ID)).Bytes()
		if err == nil {
			var charge PixCharge
			if json.Unmarshal(cached, &charge) == nil {
				return &charge, nil
			}
		}
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode pix QR: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, fmt.Errorf("render pix QR: %w", err)
	}

	charge := &PixCharge{
		Code:      code,
		QRImage:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		ExpiresAt: expiresAt.Unix(),
	}

	if s.redis != nil {
		data, _ := json.Marshal(charge)
		if err := s.redis.Set(ctx, s.chargeKey(tx.ID), data, s.ttl).Err(); err != nil {
			return nil, err
		}
	}

	return charge, nil
}

func (s *PixService) chargeKey(transactionID string) string {
	return fmt.Sprintf("pix:charge:%s", transactionID)
}

// buildPayload assembles the copy-paste string. The transaction id rides in
// the txid field so the processor's confirmation maps back to our row.
func (s *PixService) buildPayload(tx *models.Transaction) string {
	amount := fmt.Sprintf("%d.%02d", tx.Amount/100, tx.Amount%100)
	txid := strings.ReplaceAll(tx.ID, "-", "")
	if len(txid) > 25 {
		txid = txid[:25]
	}
	return fmt.Sprintf("pix|key=%s|merchant=%s|amount=%s|ccy=%s|txid=%s",
		s.pixKey, s.merchant, amount, tx.Currency, txid)
}
