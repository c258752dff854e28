package settlement

import (
	"encoding/json"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/utils"

	"github.com/shopspring/decimal"
)

// DefaultCommissionPercent applies when no platform partnership rate is active.
var DefaultCommissionPercent = decimal.NewFromInt(10)

var hundred = decimal.NewFromInt(100)

// CommissionEntries computes one ledger entry per order line:
// lineAmount × rate / 100, rounded to cents.
func CommissionEntries(order *models.Order, rate *models.CommissionRate) []models.LedgerEntry {
	percent := DefaultCommissionPercent
	partnerServiceID := ""
	if rate != nil {
		percent = rate.Percent
		partnerServiceID = rate.PartnerServiceID
	}

	entries := make([]models.LedgerEntry, 0, len(order.Items))
	for _, item := range order.Items {
		line := item.LineAmount()
		amount := line.Mul(percent).Div(hundred).Round(2)

		meta, _ := json.Marshal(map[string]string{
			"order_item_id":   item.ID,
			"book_id":         item.BookID,
			"line_amount":     line.StringFixed(2),
			"commission_rate": percent.String(),
		})

		entries = append(entries, models.LedgerEntry{
			ID:               utils.GenerateUUID7(),
			OrderID:          order.ID,
			OrderItemID:      item.ID,
			PartnerServiceID: partnerServiceID,
			Amount:           amount,
			PayoutStatus:     models.PayoutPending,
			Metadata:         meta,
		})
	}
	return entries
}
