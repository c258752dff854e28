package utils

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhoneLocalNumbers(t *testing.T) {
	for _, lead := range []string{"7", "1"} {
		for i := 0; i < 100; i++ {
			local := fmt.Sprintf("%s%08d", lead, i*1234567%100000000)

			got, err := NormalizePhone(local)
			require.NoError(t, err)
			assert.Equal(t, "254"+local, got)
			assert.Len(t, got, 12)

			got, err = NormalizePhone("0" + local)
			require.NoError(t, err)
			assert.Equal(t, "254"+local, got)
		}
	}
}

func TestNormalizePhoneIsIdempotent(t *testing.T) {
	for _, in := range []string{"254712345678", "+254712345678", "0712345678", "712345678", "0712 345 678"} {
		once, err := NormalizePhone(in)
		require.NoError(t, err, in)

		twice, err := NormalizePhone(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)

		plus, err := NormalizePhone("+" + once)
		require.NoError(t, err)
		assert.Equal(t, once, plus)
	}
}

func TestNormalizePhoneRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "12345", "07123456789", "abc712345678", "1254712345678"} {
		_, err := NormalizePhone(in)
		assert.Error(t, err, in)
	}
}

func TestValidKenyanPhone(t *testing.T) {
	tests := []struct {
		phone string
		valid bool
	}{
		{"0712345678", true},
		{"0112345678", true},
		{"254712345678", true},
		{"+254712345678", true},
		{"712345678", true},
		{"0712 345 678", true},
		{"0812345678", false},
		{"071234567", false},
		{"+255712345678", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidKenyanPhone(tt.phone), tt.phone)
	}
}

func TestMembershipReference(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	ref := NewMembershipReference("abc12345-6789-4def", now)

	assert.Equal(t, "MEMB-abc12345-1700000000000", ref)
	assert.True(t, IsMembershipReference(ref))
	assert.True(t, IsMembershipReference("MEMB-abc12345-1700000000000"))
	assert.Equal(t, "MEMB-short-1700000000000", NewMembershipReference("short", now))

	for _, ref := range []string{"O1", "0190f0a2-7c1e-7b3a-9d1c-2f4e5a6b7c8d", "memb-abc12345-1", "XMEMB-abc", ""} {
		assert.False(t, IsMembershipReference(ref), ref)
	}
}
