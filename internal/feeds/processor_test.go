package feeds

import (
	"context"
	"errors"
	"testing"
	"time"

	"offsetledger/internal/amqp"
	"offsetledger/internal/core"
)

type fakeFetcher struct {
	transactions []FeedTransaction
	err          error
	calls        int
}

func (f *fakeFetcher) FetchTransactions(ctx context.Context, startDate time.Time) ([]FeedTransaction, error) {
	f.calls++
	return f.transactions, f.err
}

type fakeUpserter struct {
	existing map[string]bool
	upserts  []string
	failOn   string
}

func (f *fakeUpserter) UpsertFromFeed(ctx context.Context, feedID string, t core.Transaction) (bool, error) {
	if feedID == f.failOn {
		return false, errors.New("disk full")
	}
	f.upserts = append(f.upserts, feedID)
	if f.existing[feedID] {
		return false, nil
	}
	return true, nil
}

func TestProcessorSync(t *testing.T) {
	fetcher := &fakeFetcher{transactions: []FeedTransaction{
		{ID: 1, Date: "2026-04-01", Payee: "COFFEE", Amount: core.Money{Cents: -450}},
		{ID: 2, Date: "2026-04-02", Payee: "RENT", Amount: core.Money{Cents: -120000}},
		{ID: 3, Date: "not-a-date", Payee: "BROKEN"},
		{ID: 4, Date: "2026-04-03", Payee: "FAILS", Amount: core.Money{Cents: -1}},
	}}
	store := &fakeUpserter{existing: map[string]bool{"2": true}, failOn: "4"}

	p := NewProcessor(fetcher, store, testLogger())
	stats, err := p.Sync(context.Background(), 30)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	if stats.Fetched != 4 {
		t.Errorf("Fetched = %d, want 4", stats.Fetched)
	}
	if stats.Created != 1 {
		t.Errorf("Created = %d, want 1", stats.Created)
	}
	if stats.Updated != 1 {
		t.Errorf("Updated = %d, want 1", stats.Updated)
	}
	if stats.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2 (bad date and failed upsert)", stats.Skipped)
	}
}

func TestProcessorSyncFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("api down")}
	p := NewProcessor(fetcher, &fakeUpserter{}, testLogger())

	if _, err := p.Sync(context.Background(), 30); err == nil {
		t.Error("Sync() should surface fetch errors")
	}
}

func TestWorkerDiscardsSupersededMessages(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := NewProcessor(fetcher, &fakeUpserter{}, testLogger())
	w := NewWorker(p, testLogger())
	ctx := context.Background()

	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 5, WindowDays: 30}); err != nil {
		t.Fatalf("HandleMessage(seq 5) error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("calls = %d, want 1", fetcher.calls)
	}

	// An older request arriving late is dropped without a sync.
	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 3, WindowDays: 30}); err != nil {
		t.Fatalf("HandleMessage(seq 3) error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("calls = %d after stale message, want 1", fetcher.calls)
	}

	// A newer one runs.
	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 6, WindowDays: 30}); err != nil {
		t.Fatalf("HandleMessage(seq 6) error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("calls = %d, want 2", fetcher.calls)
	}

	// Sequence zero (periodic ticker refresh) always runs.
	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 0, WindowDays: 30}); err != nil {
		t.Fatalf("HandleMessage(seq 0) error: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("calls = %d, want 3", fetcher.calls)
	}
}

func TestWorkerRunsRegressedSequenceWithNewerRequestTime(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := NewProcessor(fetcher, &fakeUpserter{}, testLogger())
	w := NewWorker(p, testLogger())
	ctx := context.Background()
	t0 := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 5, WindowDays: 30, RequestedAt: t0}); err != nil {
		t.Fatalf("HandleMessage(seq 5) error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("calls = %d, want 1", fetcher.calls)
	}

	// A restarted publisher counts from 1 again. Its request is newer than
	// anything applied, so it must run despite the lower sequence.
	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 1, WindowDays: 30, RequestedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("HandleMessage(regressed seq 1) error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("calls = %d after regressed fresh message, want 2", fetcher.calls)
	}

	// A redelivery of that same request is stale on both counts and drops.
	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 1, WindowDays: 30, RequestedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("HandleMessage(redelivered seq 1) error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("calls = %d after redelivery, want 2", fetcher.calls)
	}
}

func TestWorkerDoesNotAdvanceOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("api down")}
	p := NewProcessor(fetcher, &fakeUpserter{}, testLogger())
	w := NewWorker(p, testLogger())
	ctx := context.Background()

	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 9, WindowDays: 30}); err == nil {
		t.Fatal("HandleMessage should fail when sync fails")
	}

	// The failed sequence was not recorded, so a redelivery still runs.
	fetcher.err = nil
	if err := w.HandleMessage(ctx, &amqp.FeedRefreshMessage{Sequence: 9, WindowDays: 30}); err != nil {
		t.Fatalf("redelivered message error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("calls = %d, want 2", fetcher.calls)
	}
}
