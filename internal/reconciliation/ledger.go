package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/redis"
)

const (
	gapsLedger   = "gaps"
	parkedLedger = "parked"
)

// GapRecord is an accepted push whose intent row could not be written. It holds
// everything needed to rebuild the intent when the callback shows up.
type GapRecord struct {
	CorrelationToken string               `json:"correlationToken"`
	SecondaryToken   string               `json:"secondaryToken"`
	OwnerID          uuid.UUID            `json:"ownerId"`
	PayerIdentifier  string               `json:"payerIdentifier"`
	Amount           int64                `json:"amount"`
	Purpose          enums.PaymentPurpose `json:"purpose"`
	PurposeReference *string              `json:"purposeReference,omitempty"`
	Metadata         json.RawMessage      `json:"metadata,omitempty"`
	Reason           string               `json:"reason"`
	RecordedAt       time.Time            `json:"recordedAt"`
}

// ParkedCallback is a raw callback body kept for replay.
type ParkedCallback struct {
	CorrelationToken string          `json:"correlationToken"`
	Raw              json.RawMessage `json:"raw"`
	Reason           string          `json:"reason"`
	Attempts         int             `json:"attempts"`
	ParkedAt         time.Time       `json:"parkedAt"`
}

// Ledger stores reconciliation records in redis hashes keyed by correlation token.
type Ledger struct {
	store redis.HashStore
}

func NewLedger(store redis.HashStore) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("hash store required")
	}
	return &Ledger{store: store}, nil
}

func (l *Ledger) RecordGap(ctx context.Context, gap GapRecord) error {
	return l.put(ctx, gapsLedger, gap.CorrelationToken, gap)
}

// FindGap returns nil when no gap is recorded for token.
func (l *Ledger) FindGap(ctx context.Context, token string) (*GapRecord, error) {
	var gap GapRecord
	found, err := l.get(ctx, gapsLedger, token, &gap)
	if err != nil || !found {
		return nil, err
	}
	return &gap, nil
}

func (l *Ledger) ResolveGap(ctx context.Context, token string) error {
	return l.store.HDel(ctx, l.store.LedgerKey(gapsLedger), token)
}

func (l *Ledger) ListGaps(ctx context.Context) ([]GapRecord, error) {
	raw, err := l.store.HGetAll(ctx, l.store.LedgerKey(gapsLedger))
	if err != nil {
		return nil, err
	}
	gaps := make([]GapRecord, 0, len(raw))
	for token, value := range raw {
		var gap GapRecord
		if err := json.Unmarshal([]byte(value), &gap); err != nil {
			return nil, fmt.Errorf("decode gap %s: %w", token, err)
		}
		gaps = append(gaps, gap)
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].RecordedAt.Before(gaps[j].RecordedAt) })
	return gaps, nil
}

func (l *Ledger) Park(ctx context.Context, parked ParkedCallback) error {
	return l.put(ctx, parkedLedger, parked.CorrelationToken, parked)
}

func (l *Ledger) Unpark(ctx context.Context, token string) error {
	return l.store.HDel(ctx, l.store.LedgerKey(parkedLedger), token)
}

func (l *Ledger) ListParked(ctx context.Context) ([]ParkedCallback, error) {
	raw, err := l.store.HGetAll(ctx, l.store.LedgerKey(parkedLedger))
	if err != nil {
		return nil, err
	}
	parked := make([]ParkedCallback, 0, len(raw))
	for token, value := range raw {
		var entry ParkedCallback
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, fmt.Errorf("decode parked callback %s: %w", token, err)
		}
		parked = append(parked, entry)
	}
	sort.Slice(parked, func(i, j int) bool { return parked[i].ParkedAt.Before(parked[j].ParkedAt) })
	return parked, nil
}

// Counts returns the number of outstanding gaps and parked callbacks.
func (l *Ledger) Counts(ctx context.Context) (gaps, parked int64, err error) {
	gaps, err = l.store.HLen(ctx, l.store.LedgerKey(gapsLedger))
	if err != nil {
		return 0, 0, err
	}
	parked, err = l.store.HLen(ctx, l.store.LedgerKey(parkedLedger))
	if err != nil {
		return 0, 0, err
	}
	return gaps, parked, nil
}

func (l *Ledger) put(ctx context.Context, ledger, token string, value any) error {
	if token == "" {
		return errors.New("correlation token required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return l.store.HSet(ctx, l.store.LedgerKey(ledger), token, string(data))
}

func (l *Ledger) get(ctx context.Context, ledger, token string, dest any) (bool, error) {
	value, err := l.store.HGet(ctx, l.store.LedgerKey(ledger), token)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("decode %s entry %s: %w", ledger, token, err)
	}
	return true, nil
}
