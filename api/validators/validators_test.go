package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

type samplePayload struct {
	Amount  int64  `json:"amount" validate:"gt=0"`
	Purpose string `json:"purpose" validate:"required,oneof=store_order subscription tip"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0,"purpose":"donation"}`))
	var payload samplePayload
	err := DecodeJSONBody(req, &payload)
	if err == nil {
		t.Fatal("expected validation error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", typed.Details())
	}
	if details["amount"] != "must be greater than 0" {
		t.Fatalf("unexpected amount message %q", details["amount"])
	}
	if details["purpose"] != "must be one of: store_order, subscription, tip" {
		t.Fatalf("unexpected purpose message %q", details["purpose"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"purpose":"tip","extra":true}`))
	var payload samplePayload
	if err := DecodeJSONBody(req, &payload); err == nil {
		t.Fatal("expected unknown field rejection")
	}
}

func TestDecodeJSONBodyRejectsTrailingAndEmptyBodies(t *testing.T) {
	var payload samplePayload
	trailing := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"purpose":"tip"} {"amount":6}`))
	if err := DecodeJSONBody(trailing, &payload); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected trailing data rejection, got %v", err)
	}

	empty := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	err := DecodeJSONBody(empty, &payload)
	if typed := pkgerrors.As(err); typed == nil || typed.Message() != "request body is required" {
		t.Fatalf("expected missing body error, got %v", err)
	}

	wrongType := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"700","purpose":"tip"}`))
	err = DecodeJSONBody(wrongType, &payload)
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	if details, ok := typed.Details().(map[string]string); !ok || details["amount"] != "must be int64" {
		t.Fatalf("unexpected details %+v", typed.Details())
	}
}

func TestDecodeJSONBodyRejectsOversizedBodies(t *testing.T) {
	big := `{"amount":5,"purpose":"tip","pad":"` + strings.Repeat("x", int(MaxBodyBytes)) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	var payload samplePayload
	if err := DecodeJSONBody(req, &payload); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequireQueryString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?ref=%20ws_CO_1%20", nil)
	got, err := RequireQueryString(req, "ref", 64)
	if err != nil || got != "ws_CO_1" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}

	blank := httptest.NewRequest(http.MethodGet, "/?ref=", nil)
	if _, err := RequireQueryString(blank, "ref", 64); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	long := httptest.NewRequest(http.MethodGet, "/?ref="+strings.Repeat("x", 65), nil)
	if _, err := RequireQueryString(long, "ref", 64); err == nil {
		t.Fatal("expected length error")
	}

	repeated := httptest.NewRequest(http.MethodGet, "/?ref=a&ref=b", nil)
	if _, err := RequireQueryString(repeated, "ref", 64); err == nil {
		t.Fatal("expected repeated parameter error")
	}
}

func TestSanitizeString(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  hello  ", 3, "hel"},
		{"asante\x00 sana", 0, "asante sana"},
		{"\u00e9t\u00e9\u00e9", 2, "\u00e9t"},
		{"line one\nline two", 0, "line one\nline two"},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
