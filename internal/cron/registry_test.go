package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresJobs(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	jobA := &stubJob{name: "callback-replay"}
	jobB := &stubJob{name: "stale-intent-sweep"}
	if err := registry.Register(jobA); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(jobB); err != nil {
		t.Fatalf("register: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
	if names := registry.Names(); len(names) != 2 || names[1] != "stale-intent-sweep" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	if _, err := NewRegistry(&stubJob{name: "fulfillment-retry"}, &stubJob{name: "fulfillment-retry"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	registry, err := NewRegistry(nil, &stubJob{name: "reconciliation-report"})
	if err != nil {
		t.Fatalf("nil jobs should be skipped: %v", err)
	}
	if len(registry.Jobs()) != 1 {
		t.Fatalf("expected one job")
	}
	if err := registry.Register(&stubJob{}); err == nil {
		t.Fatal("expected unnamed job to be rejected")
	}
}
