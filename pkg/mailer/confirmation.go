package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"bookstore-payments/pkg/models"

	"github.com/shopspring/decimal"
)

type confirmationLine struct {
	Title          string
	Quantity       int
	UnitPrice      string
	LineTotal      string
	IsDigital      bool
	AccessPassword string
}

type confirmationView struct {
	CustomerName string
	OrderID      string
	Lines        []confirmationLine
	Subtotal     string
	VATRate      string
	VATAmount    string
	Total        string
	Address      models.ShippingAddress
	HasDigital   bool
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>Thank you for your order, {{.CustomerName}}!</h2>
<p>Order <strong>{{.OrderID}}</strong> has been paid.</p>
<table cellpadding="6" style="border-collapse:collapse">
<tr><th align="left">Book</th><th>Qty</th><th align="right">Price</th><th align="right">Total</th></tr>
{{range .Lines}}<tr><td>{{.Title}}{{if .IsDigital}} (digital){{end}}</td><td align="center">{{.Quantity}}</td><td align="right">KES {{.UnitPrice}}</td><td align="right">KES {{.LineTotal}}</td></tr>
{{end}}</table>
<p>Subtotal (excl. VAT): KES {{.Subtotal}}<br>VAT ({{.VATRate}}%): KES {{.VATAmount}}<br><strong>Total: KES {{.Total}}</strong></p>
{{if .HasDigital}}<h3>Your digital books</h3><ul>
{{range .Lines}}{{if .IsDigital}}<li>{{.Title}}: access password <code>{{if .AccessPassword}}{{.AccessPassword}}{{else}}available in your account{{end}}</code></li>
{{end}}{{end}}</ul>{{end}}
{{if .Address.Address}}<p>Shipping to: {{.Address.FullName}}, {{.Address.Address}}{{if .Address.City}}, {{.Address.City}}{{end}}</p>{{end}}
</body></html>`))

// RenderOrderConfirmation builds the confirmation email. Prices are VAT
// inclusive; passwords maps order item id to its decrypted access password.
func RenderOrderConfirmation(order *models.Order, passwords map[string]string, vatRate decimal.Decimal) (Email, error) {
	view := confirmationView{
		CustomerName: order.ShippingAddress.FullName,
		OrderID:      order.ID,
		Address:      order.ShippingAddress,
		VATRate:      vatRate.String(),
	}
	if view.CustomerName == "" {
		view.CustomerName = "reader"
	}

	total := decimal.Zero
	for _, item := range order.Items {
		line := item.LineAmount()
		total = total.Add(line)
		view.Lines = append(view.Lines, confirmationLine{
			Title:          item.Title,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice.StringFixed(2),
			LineTotal:      line.StringFixed(2),
			IsDigital:      item.IsDigital,
			AccessPassword: passwords[item.ID],
		})
		if item.IsDigital {
			view.HasDigital = true
		}
	}
	if len(order.Items) == 0 {
		total = order.TotalAmount
	}

	vat := VATPortion(total, vatRate)
	view.Total = total.StringFixed(2)
	view.VATAmount = vat.StringFixed(2)
	view.Subtotal = total.Sub(vat).StringFixed(2)

	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, view); err != nil {
		return Email{}, fmt.Errorf("render confirmation: %w", err)
	}

	return Email{
		To:      order.ShippingAddress.Email,
		Subject: fmt.Sprintf("Order confirmation #%s", shortID(order.ID)),
		HTML:    buf.String(),
	}, nil
}

// VATPortion is the tax contained in a VAT-inclusive amount.
func VATPortion(gross, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	return gross.Mul(ratePercent).Div(hundred.Add(ratePercent)).Round(2)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
