package mpesa

import (
	"fmt"
	"regexp"
	"strings"
)

var msisdnPattern = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone converts local (07.., 01..), international (+254..) and bare
// (7.., 254..) Kenyan mobile numbers to the 254XXXXXXXXX form the provider expects.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case strings.HasPrefix(cleaned, "254"):
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == 10:
		cleaned = "254" + cleaned[1:]
	case len(cleaned) == 9:
		cleaned = "254" + cleaned
	}

	if !msisdnPattern.MatchString(cleaned) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return cleaned, nil
}
