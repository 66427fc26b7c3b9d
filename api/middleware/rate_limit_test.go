package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
)

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: make(map[string]int64)}
}

func (f *fakeRateStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func initiateRequest(body, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
	req.RemoteAddr = remote
	return req
}

func TestRateLimitAllowsUnderLimitAndPreservesBody(t *testing.T) {
	store := newFakeRateStore()
	policy := NewRateLimitPolicy("initiate", time.Minute, 2, 2)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), `"payerIdentifier":"0712345678"`) {
			t.Fatalf("unexpected body: %s", string(body))
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, initiateRequest(`{"payerIdentifier":"0712345678","amount":700}`, "1.2.3.4:5678"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}

func TestRateLimitPayerLimitFoldsPhoneSpellings(t *testing.T) {
	store := newFakeRateStore()
	policy := NewRateLimitPolicy("initiate", time.Minute, 0, 2)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	spellings := []string{"0712345678", "+254712345678", "254712345678"}
	for i, phone := range spellings {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, initiateRequest(`{"payerIdentifier":"`+phone+`"}`, "10.0.0.1:1000"))

		if i < 2 && rec.Code != http.StatusAccepted {
			t.Fatalf("expected success before limit, got %d", rec.Code)
		}
		if i == 2 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429 for third spelling, got %d", rec.Code)
			}
			var payload struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.Error.Code != string(pkgerrors.CodeRateLimit) {
				t.Fatalf("expected %s got %s", pkgerrors.CodeRateLimit, payload.Error.Code)
			}
		}
	}
}

func TestRateLimitIPLimitTriggers(t *testing.T) {
	store := newFakeRateStore()
	policy := NewRateLimitPolicy("initiate", time.Minute, 1, 0)
	handler := RateLimit(policy, store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for i := 0; i < 2; i++ {
		req := initiateRequest(`{}`, "9.9.9.9:1")
		req.Header.Set("X-Forwarded-For", "5.6.7.8, 9.9.9.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
	}
	if store.counts["rl:ip:initiate:5.6.7.8"] != 2 {
		t.Fatalf("expected forwarded ip counter, got %v", store.counts)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RateLimit(NewRateLimitPolicy("initiate", 0, 5, 5), newFakeRateStore(), nil)(next)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, initiateRequest(`{}`, "1.1.1.1:1"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected passthrough, got %d", rec.Code)
	}
}
