package mpesa

import "testing"

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0712345678":      "254712345678",
		"0112345678":      "254112345678",
		"+254712345678":   "254712345678",
		"254712345678":    "254712345678",
		"712345678":       "254712345678",
		"0712 345 678":    "254712345678",
		"+254-712-345678": "254712345678",
	}
	for raw, want := range valid {
		got, err := NormalizePhone(raw)
		if err != nil {
			t.Fatalf("normalize %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %s got %s", raw, want, got)
		}
	}

	for _, raw := range []string{"", "12345", "0812345678", "2547123456789", "+1 415 555 0100", "abc"} {
		if _, err := NormalizePhone(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
