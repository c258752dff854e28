package webhook

import (
	"bytes"
	"encoding/json"
	"strings"

	"bookstore-payments/pkg/models"
	"bookstore-payments/pkg/paymenterr"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// SuccessStatus is the only status value treated as a successful payment.
const SuccessStatus = "Success"

type path []string

// The aggregator nests the same fields differently depending on event type
// and API version. Each root below is one place a resource or metadata
// object has been seen.
var (
	dataRoot = path{"data", "attributes"}

	resourceRoots = []path{
		{"data", "attributes", "event", "resource"},
		{"attributes", "event", "resource"},
		{"event", "resource"},
		{"resource"},
	}

	metadataRoots = []path{
		{"data", "attributes", "metadata"},
		{"metadata"},
		{"data", "attributes", "event", "resource", "metadata"},
		{"attributes", "event", "resource", "metadata"},
		{"event", "resource", "metadata"},
		{"resource", "metadata"},
	}

	eventRoots = []path{
		{"data", "attributes", "event"},
		{"attributes", "event"},
		{"event"},
	}
)

// probe lists candidate locations for a field in priority order; the first
// non-empty value wins.
type probe struct {
	field string
	paths []path
}

var probeTable = []probe{
	{"transactionId", concat(
		under(resourceRoots, "transaction_id"),
		under(resourceRoots, "id"),
		[]path{{"id"}, {"data", "id"}},
	)},
	{"referenceId", concat(
		under(metadataRoots, "order_id"),
		under(metadataRoots, "customer_reference"),
		under(resourceRoots, "reference"),
	)},
	{"amount", concat(
		under(resourceRoots, "amount"),
		under([]path{dataRoot}, "amount"),
		[]path{{"amount"}},
	)},
	{"phone", concat(
		under(resourceRoots, "phone_number"),
		under(resourceRoots, "sender_phone_number"),
		under(resourceRoots, "subscriber", "phone_number"),
		under(metadataRoots, "phone"),
	)},
	{"eventType", concat(
		under(eventRoots, "type"),
		[]path{{"data", "type"}, {"type"}},
	)},
	{"senderName", concat(
		under(resourceRoots, "sender_name"),
		under(resourceRoots, "subscriber", "first_name"),
	)},
	{"rawStatus", concat(
		under([]path{dataRoot}, "status"),
		under(resourceRoots, "status"),
		[]path{{"status"}},
	)},
}

// statusPaths are checked for an exact "Success"; any one is enough.
var statusPaths = concat(
	under([]path{dataRoot}, "status"),
	[]path{{"data", "status"}},
	under(resourceRoots, "status"),
	[]path{{"status"}},
)

// Normalize flattens an aggregator payload into a canonical event. Missing
// fields are left empty; Validate decides whether the event is usable.
func Normalize(payload map[string]interface{}) models.CanonicalEvent {
	var ev models.CanonicalEvent
	for _, p := range probeTable {
		v, ok := first(payload, p.paths)
		if !ok {
			continue
		}
		switch p.field {
		case "transactionId":
			ev.TransactionID = cast.ToString(v)
		case "referenceId":
			ev.ReferenceID = cast.ToString(v)
		case "amount":
			ev.Amount = toAmount(v)
		case "phone":
			ev.Phone = cast.ToString(v)
		case "eventType":
			ev.EventType = cast.ToString(v)
		case "senderName":
			ev.SenderName = cast.ToString(v)
		case "rawStatus":
			ev.RawStatus = cast.ToString(v)
		}
	}
	if ev.SenderName == "" {
		ev.SenderName = senderFullName(payload)
	}

	for _, p := range statusPaths {
		if v, ok := lookup(payload, p); ok && cast.ToString(v) == SuccessStatus {
			ev.IsSuccess = true
			break
		}
	}
	return ev
}

// Parse decodes a raw webhook body and normalizes it.
func Parse(body []byte) (models.CanonicalEvent, map[string]interface{}, error) {
	var payload map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return models.CanonicalEvent{}, nil, &paymenterr.NormalizationError{Reason: "body is not a JSON object"}
	}
	return Normalize(payload), payload, nil
}

// Validate rejects events that cannot be correlated or deduplicated.
func Validate(ev models.CanonicalEvent) error {
	switch {
	case ev.TransactionID == "":
		return &paymenterr.NormalizationError{Reason: "no transaction id"}
	case ev.ReferenceID == "":
		return &paymenterr.NormalizationError{Reason: "no reference id"}
	}
	return nil
}

func senderFullName(payload map[string]interface{}) string {
	for _, root := range resourceRoots {
		firstName, _ := first(payload, under([]path{root}, "sender_first_name"))
		lastName, _ := first(payload, under([]path{root}, "sender_last_name"))
		name := strings.TrimSpace(cast.ToString(firstName) + " " + cast.ToString(lastName))
		if name != "" {
			return name
		}
	}
	return ""
}

func toAmount(v interface{}) decimal.Decimal {
	if obj, ok := v.(map[string]interface{}); ok {
		v = obj["value"]
	}
	d, err := decimal.NewFromString(strings.TrimSpace(cast.ToString(v)))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func first(payload map[string]interface{}, paths []path) (interface{}, bool) {
	for _, p := range paths {
		if v, ok := lookup(payload, p); ok {
			return v, true
		}
	}
	return nil, false
}

// lookup walks p and reports a value only when it is present and non-empty.
func lookup(payload map[string]interface{}, p path) (interface{}, bool) {
	var cur interface{} = payload
	for _, key := range p {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	if s, ok := cur.(string); ok && s == "" {
		return nil, false
	}
	return cur, true
}

func under(roots []path, keys ...string) []path {
	out := make([]path, 0, len(roots))
	for _, root := range roots {
		p := make(path, 0, len(root)+len(keys))
		p = append(p, root...)
		p = append(p, keys...)
		out = append(out, p)
	}
	return out
}

func concat(groups ...[]path) []path {
	var out []path
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
