package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookstore-payments/pkg/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:          "0190f0a2-7c1e-7b3a",
		TotalAmount: decimal.NewFromInt(2320),
		ShippingAddress: models.ShippingAddress{
			FullName: "Jane Doe", Email: "jane@example.com", Address: "Moi Avenue 1", City: "Nairobi",
		},
		Items: []models.OrderItem{
			{ID: "i1", Title: "The River Between", Quantity: 2, UnitPrice: decimal.NewFromInt(580)},
			{ID: "i2", Title: "Petals of Blood (eBook)", Quantity: 1, UnitPrice: decimal.NewFromInt(1160), IsDigital: true},
		},
	}
}

func TestRenderOrderConfirmation(t *testing.T) {
	email, err := RenderOrderConfirmation(testOrder(), map[string]string{"i2": "p@ss-42"}, decimal.NewFromInt(16))
	require.NoError(t, err)

	assert.Equal(t, "jane@example.com", email.To)
	assert.Equal(t, "Order confirmation #0190f0a2", email.Subject)
	assert.Contains(t, email.HTML, "Jane Doe")
	assert.Contains(t, email.HTML, "KES 1160.00")
	assert.Contains(t, email.HTML, "Total: KES 2320.00")
	assert.Contains(t, email.HTML, "VAT (16%): KES 320.00")
	assert.Contains(t, email.HTML, "Subtotal (excl. VAT): KES 2000.00")
	assert.Contains(t, email.HTML, "p@ss-42")
	assert.Contains(t, email.HTML, "Nairobi")
}

func TestRenderWithoutDigitalItems(t *testing.T) {
	order := testOrder()
	order.Items = order.Items[:1]

	email, err := RenderOrderConfirmation(order, nil, decimal.NewFromInt(16))
	require.NoError(t, err)
	assert.NotContains(t, email.HTML, "Your digital books")
}

func TestVATPortion(t *testing.T) {
	assert.Equal(t, "160.00", VATPortion(decimal.NewFromInt(1160), decimal.NewFromInt(16)).StringFixed(2))
	assert.True(t, VATPortion(decimal.NewFromInt(100), decimal.Zero).IsZero())
}

func TestAPISender(t *testing.T) {
	var got Email
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := New(srv.URL, "key", "orders@shop.example")
	require.NoError(t, s.Send(context.Background(), Email{To: "a@b.c", Subject: "hi", HTML: "<p>x</p>"}))
	assert.Equal(t, "orders@shop.example", got.From)
	assert.Equal(t, "a@b.c", got.To)
}

func TestAPISenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, NewAPISender(srv.URL, "key", "x@y.z").Send(context.Background(), Email{To: "a@b.c"}))
	assert.IsType(t, LogSender{}, New("", "", ""))
}
