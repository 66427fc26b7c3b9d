package reconciliation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/redis"
)

type fakeHashStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
}

func newFakeHashStore() *fakeHashStore {
	return &fakeHashStore{hashes: make(map[string]map[string]string)}
}

func (f *fakeHashStore) HSet(_ context.Context, key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeHashStore) HGet(_ context.Context, key, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.hashes[key][field]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeHashStore) HDel(_ context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	return nil
}

func (f *fakeHashStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHashStore) HLen(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.hashes[key])), nil
}

func (f *fakeHashStore) LedgerKey(name string) string { return "pp:ledger:" + name }

func TestNewLedgerRequiresStore(t *testing.T) {
	_, err := NewLedger(nil)
	require.Error(t, err)
}

func TestLedgerGapLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(newFakeHashStore())
	require.NoError(t, err)

	missing, err := ledger.FindGap(ctx, "ws_CO_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ref := "plan-1-month"
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.RecordGap(ctx, GapRecord{
		CorrelationToken: "ws_CO_2",
		OwnerID:          uuid.New(),
		Amount:           700,
		Purpose:          enums.PurposeSubscription,
		PurposeReference: &ref,
		RecordedAt:       base.Add(time.Minute),
	}))
	require.NoError(t, ledger.RecordGap(ctx, GapRecord{CorrelationToken: "ws_CO_1", Amount: 50, Purpose: enums.PurposeTip, RecordedAt: base}))

	gap, err := ledger.FindGap(ctx, "ws_CO_2")
	require.NoError(t, err)
	require.NotNil(t, gap)
	assert.Equal(t, int64(700), gap.Amount)
	assert.Equal(t, "plan-1-month", *gap.PurposeReference)

	gaps, err := ledger.ListGaps(ctx)
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, "ws_CO_1", gaps[0].CorrelationToken)

	require.NoError(t, ledger.ResolveGap(ctx, "ws_CO_2"))
	gap, err = ledger.FindGap(ctx, "ws_CO_2")
	require.NoError(t, err)
	assert.Nil(t, gap)
}

func TestLedgerParkAndCounts(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(newFakeHashStore())
	require.NoError(t, err)

	require.Error(t, ledger.Park(ctx, ParkedCallback{}))
	require.NoError(t, ledger.Park(ctx, ParkedCallback{CorrelationToken: "ws_CO_9", Raw: []byte(`{"Body":{}}`), Reason: "unknown"}))
	require.NoError(t, ledger.RecordGap(ctx, GapRecord{CorrelationToken: "ws_CO_8"}))

	gaps, parked, err := ledger.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gaps)
	assert.Equal(t, int64(1), parked)

	entries, err := ledger.ListParked(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"Body":{}}`, string(entries[0].Raw))

	require.NoError(t, ledger.Unpark(ctx, "ws_CO_9"))
	_, parked, err = ledger.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, parked)
}
