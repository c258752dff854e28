package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MembershipReferencePrefix marks a reference id as a membership payment.
// Every other reference id is an order id.
const MembershipReferencePrefix = "MEMB-"

const membershipUserPrefixLen = 8

var membershipReference = regexp.MustCompile(`^MEMB-[A-Za-z0-9_-]{1,8}-[0-9]+$`)

func NewMembershipReference(userID string, now time.Time) string {
	prefix := userID
	if len(prefix) > membershipUserPrefixLen {
		prefix = prefix[:membershipUserPrefixLen]
	}
	return fmt.Sprintf("%s%s-%d", MembershipReferencePrefix, prefix, now.UnixMilli())
}

func IsMembershipReference(referenceID string) bool {
	return strings.HasPrefix(referenceID, MembershipReferencePrefix)
}

// ValidReference accepts the two reference shapes the system issues: a
// canonical order UUID or a MEMB- membership reference. Anything else,
// including subject wildcards, is rejected.
func ValidReference(referenceID string) bool {
	if IsMembershipReference(referenceID) {
		return membershipReference.MatchString(referenceID)
	}
	if len(referenceID) != 36 {
		return false
	}
	_, err := uuid.Parse(referenceID)
	return err == nil
}
