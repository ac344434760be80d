package service

import (
	"regexp"
	"strings"

	cdrdomain "github.com/smallbiznis/voxbill/internal/cdr/domain"
)

var (
	mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	stdPattern    = regexp.MustCompile(`^0[1-9]\d{8,10}$`)
)

// Classify maps a called number to its call type. The home country prefix
// ("+cc") is stripped before the digit patterns apply; any other "+" prefix
// is international.
func Classify(calledNumber, homeCountryCode string) cdrdomain.CallType {
	number := strings.TrimSpace(calledNumber)
	if number == "" {
		return cdrdomain.CallTypeLocal
	}

	digits := number
	if strings.HasPrefix(number, "+") {
		home := "+" + strings.TrimPrefix(homeCountryCode, "+")
		if homeCountryCode == "" || !strings.HasPrefix(number, home) {
			return cdrdomain.CallTypeISD
		}
		digits = number[len(home):]
	}

	switch {
	case mobilePattern.MatchString(digits):
		return cdrdomain.CallTypeMobile
	case stdPattern.MatchString(digits):
		return cdrdomain.CallTypeSTD
	default:
		return cdrdomain.CallTypeLocal
	}
}
