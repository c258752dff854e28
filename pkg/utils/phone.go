package utils

import (
	"fmt"
	"regexp"
	"strings"
)

const CountryPrefix = "254"

var kenyanPhone = regexp.MustCompile(`^(0|\+?254)?[71]\d{8}$`)

// ValidKenyanPhone checks a shopper-entered number. Spaces and dashes are ignored.
func ValidKenyanPhone(phone string) bool {
	return kenyanPhone.MatchString(stripSeparators(phone))
}

// NormalizePhone returns the number as 12 digits with the 254 country prefix.
// Already-prefixed numbers (with or without +) come back unchanged.
func NormalizePhone(phone string) (string, error) {
	digits := strings.TrimPrefix(stripSeparators(phone), "+")
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("phone %q contains non-digit characters", phone)
		}
	}

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, CountryPrefix):
		return digits, nil
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return CountryPrefix + digits[1:], nil
	case len(digits) == 9:
		return CountryPrefix + digits, nil
	}
	return "", fmt.Errorf("phone %q is not a recognised local or 254-prefixed number", phone)
}

func stripSeparators(phone string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
}
