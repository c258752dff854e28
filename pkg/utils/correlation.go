package utils

import (
	"context"
	"crypto/rand"
	"math/big"
)

func GenerateCorrelationID() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, 6)

	for i := range result {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			idx = big.NewInt(int64(i * 17 % len(charset)))
		}
		result[i] = charset[idx.Int64()]
	}

	return string(result)
}

type correlationKey struct{}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or a fresh one.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return GenerateCorrelationID()
}

// LogPrefix is the "[ID] " prefix every log line of a request carries.
func LogPrefix(ctx context.Context) string {
	return "[" + CorrelationID(ctx) + "] "
}
