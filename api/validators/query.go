package validators

import (
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

// RequireQueryString returns the trimmed value of key, rejecting blanks,
// repeated parameters and values longer than maxLen.
func RequireQueryString(r *http.Request, key string, maxLen int) (string, error) {
	values := r.URL.Query()[key]
	if len(values) > 1 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "query parameter must not repeat").WithDetails(map[string]any{"field": key})
	}
	raw := ""
	if len(values) == 1 {
		raw = strings.TrimSpace(values[0])
	}
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "query parameter is required").WithDetails(map[string]any{"field": key})
	}
	if maxLen > 0 && len(raw) > maxLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "query parameter too long").WithDetails(map[string]any{"field": key, "max": maxLen})
	}
	return raw, nil
}
