package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidReference(t *testing.T) {
	tests := []struct {
		ref   string
		valid bool
	}{
		{GenerateUUID7(), true},
		{"0190aaaa-bbbb-7ccc-8ddd-eeeeeeeeeeee", true},
		{"MEMB-abc12345-1700000000000", true},
		{NewMembershipReference("abc12345-6789", time.UnixMilli(1700000000000)), true},
		{">", false},
		{"*", false},
		{"O1.>", false},
		{"0190aaaa-bbbb-7ccc-8ddd-eeeeeeeeeeee.x", false},
		{"{0190aaaa-bbbb-7ccc-8ddd-eeeeeeeeeeee}", false},
		{"MEMB-a.b-1700000000000", false},
		{"MEMB-abc 1-1700000000000", false},
		{"MEMB->", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidReference(tt.ref), tt.ref)
	}
}
