package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

// Credentials is the complete, validated set of provider secrets. It is held by
// value inside Client and never mutated after construction.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	Shortcode      string
}

// Missing returns the names of unset fields in blob key order.
func (c Credentials) Missing() []string {
	var missing []string
	if c.ConsumerKey == "" {
		missing = append(missing, "consumerKey")
	}
	if c.ConsumerSecret == "" {
		missing = append(missing, "consumerSecret")
	}
	if c.Passkey == "" {
		missing = append(missing, "passkey")
	}
	if c.Shortcode == "" {
		missing = append(missing, "shortcode")
	}
	return missing
}

// ResolveCredentials merges the structured blob with the discrete variables.
// Blob values win; discrete values fill whatever the blob leaves empty. A
// malformed blob is logged and ignored. An incomplete result is an error that
// names every missing field.
func ResolveCredentials(ctx context.Context, snap config.CredentialSnapshot, logg *logger.Logger) (Credentials, error) {
	var creds Credentials

	if blob := strings.TrimSpace(snap.Blob); blob != "" {
		parsed, err := parseCredentialBlob(blob)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "mpesa credential blob is malformed; using discrete variables")
			}
		} else {
			creds = parsed
		}
	}

	creds.ConsumerKey = firstNonEmpty(creds.ConsumerKey, snap.ConsumerKey)
	creds.ConsumerSecret = firstNonEmpty(creds.ConsumerSecret, snap.ConsumerSecret)
	creds.Passkey = firstNonEmpty(creds.Passkey, snap.Passkey)
	creds.Shortcode = firstNonEmpty(creds.Shortcode, snap.Shortcode)

	if missing := creds.Missing(); len(missing) > 0 {
		return Credentials{}, &MissingCredentialError{Fields: missing}
	}
	return creds, nil
}

func parseCredentialBlob(blob string) (Credentials, error) {
	dec := json.NewDecoder(strings.NewReader(blob))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Credentials{}, fmt.Errorf("decode credential blob: %w", err)
	}
	if raw == nil {
		return Credentials{}, fmt.Errorf("credential blob is not an object")
	}

	var creds Credentials
	var err error
	if creds.ConsumerKey, err = blobString(raw, "consumerKey"); err != nil {
		return Credentials{}, err
	}
	if creds.ConsumerSecret, err = blobString(raw, "consumerSecret"); err != nil {
		return Credentials{}, err
	}
	if creds.Passkey, err = blobString(raw, "passkey"); err != nil {
		return Credentials{}, err
	}
	if creds.Shortcode, err = blobString(raw, "shortcode"); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// blobString accepts strings and numbers; shortcodes are often written as numbers.
func blobString(raw map[string]any, key string) (string, error) {
	value, ok := raw[key]
	if !ok || value == nil {
		return "", nil
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("credential field %s has unsupported type %T", key, value)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
