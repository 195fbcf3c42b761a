package invoices

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	svcerrors "github.com/solpos/service_layer/internal/errors"
)

var csvHeader = []string{"ref", "amount_brl", "status", "tx_hash", "created_at"}

// WriteCSV renders invoices as CSV.
func WriteCSV(w io.Writer, list []invoice.Invoice) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, inv := range list {
		if err := cw.Write([]string{
			inv.Ref,
			inv.AmountBRL(),
			string(inv.Status),
			inv.TxHash,
			inv.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the merchant's invoices in the window to w.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, merchantID string, from, to time.Time) error {
	list, err := s.List(ctx, merchantID, from, to)
	if err != nil {
		return err
	}
	return WriteCSV(w, list)
}

// QRCode renders the invoice payment URL as a PNG of size pixels.
func (s *Service) QRCode(ctx context.Context, merchantID, ref string, size int) ([]byte, string, error) {
	inv, err := s.GetForMerchant(ctx, merchantID, ref)
	if err != nil {
		return nil, "", err
	}
	req, err := s.PaymentRequest(inv, s.MerchantLabel(ctx, merchantID))
	if err != nil {
		return nil, "", err
	}
	if size <= 0 || size > 1024 {
		size = 512
	}
	payURL := req.URL()
	png, err := qrcode.Encode(payURL, qrcode.Medium, size)
	if err != nil {
		return nil, "", svcerrors.Internal("render qr code", err)
	}
	return png, payURL, nil
}
