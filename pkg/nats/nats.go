package nats

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/utils"

	"github.com/nats-io/nats.go"
)

const settledSubjectPrefix = "payment.settled."

var Conn *nats.Conn

func Init() error {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}

	var err error
	Conn, err = nats.Connect(url, nats.Name(os.Args[0]))
	if err != nil {
		return err
	}
	return nil
}

func Close() {
	if Conn != nil {
		Conn.Drain()
	}
}

func Publish(subject string, data []byte) error {
	if Conn == nil {
		return nats.ErrConnectionClosed
	}
	return Conn.Publish(subject, data)
}

func Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if Conn == nil {
		return nil, nats.ErrConnectionClosed
	}
	return Conn.Subscribe(subject, handler)
}

// SettledSubject is the per-payable subject settlement outcomes go out on.
func SettledSubject(referenceID string) string {
	return settledSubjectPrefix + referenceID
}

// Bus exposes the shared connection to components that take it as a dependency.
type Bus struct{}

// validToken rejects ids that would split or widen a subject.
func validToken(referenceID string) bool {
	return referenceID != "" && !strings.ContainsAny(referenceID, ".*> \t\r\n")
}

func (Bus) PublishSettled(msg models.SettledMessage) error {
	if !validToken(msg.ReferenceID) {
		return fmt.Errorf("reference id %q is not a subject token", msg.ReferenceID)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return Publish(SettledSubject(msg.ReferenceID), data)
}

// Unsubscriber is what SubscribeSettled hands back.
type Unsubscriber interface {
	Unsubscribe() error
}

// SubscribeSettled delivers every settlement message for referenceID to fn.
// Undecodable messages are dropped.
func (Bus) SubscribeSettled(referenceID string, fn func(models.SettledMessage)) (Unsubscriber, error) {
	if !utils.ValidReference(referenceID) {
		return nil, fmt.Errorf("reference id %q is not an order or membership reference", referenceID)
	}
	sub, err := Subscribe(SettledSubject(referenceID), func(m *nats.Msg) {
		var msg models.SettledMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
