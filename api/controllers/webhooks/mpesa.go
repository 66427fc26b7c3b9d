package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/pushpay-backend/internal/reconciliation"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const maxCallbackBytes = 64 << 10

type callbackHandler interface {
	HandleCallback(ctx context.Context, raw []byte, secret string) reconciliation.Ack
}

// MpesaCallback receives STK push results. It always answers 200 with the
// provider's acknowledgement shape; anything else makes the provider retry.
func MpesaCallback(engine callbackHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if engine == nil {
			writeAck(ctx, logg, w, reconciliation.AckError)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "callback.read_failed")
			}
			writeAck(ctx, logg, w, reconciliation.AckError)
			return
		}

		ack := engine.HandleCallback(ctx, body, r.URL.Query().Get("secret"))
		writeAck(ctx, logg, w, ack)
	}
}

func writeAck(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, ack reconciliation.Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ack); err != nil && logg != nil {
		logg.Error(ctx, "callback.ack_write_failed", err)
	}
}
