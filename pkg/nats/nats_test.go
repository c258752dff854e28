package nats

import (
	"testing"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/utils"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeSettledRejectsWildcards(t *testing.T) {
	for _, ref := range []string{">", "*", "O1.>", "a b", "", "not-an-order"} {
		sub, err := Bus{}.SubscribeSettled(ref, func(models.SettledMessage) {
			t.Fatalf("delivery for %q", ref)
		})
		require.Error(t, err, ref)
		assert.Nil(t, sub)
	}
}

func TestSubscribeSettledAcceptsIssuedReferences(t *testing.T) {
	prev := Conn
	Conn = nil
	t.Cleanup(func() { Conn = prev })

	for _, ref := range []string{utils.GenerateUUID7(), "MEMB-abc12345-1700000000000"} {
		_, err := Bus{}.SubscribeSettled(ref, func(models.SettledMessage) {})
		assert.ErrorIs(t, err, nats.ErrConnectionClosed, ref)
	}
}

func TestPublishSettledRejectsWildcards(t *testing.T) {
	err := Bus{}.PublishSettled(models.SettledMessage{ReferenceID: "payment.>", Status: models.OrderPaid})
	require.Error(t, err)
	assert.NotErrorIs(t, err, nats.ErrConnectionClosed)
}
