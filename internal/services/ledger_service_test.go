package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"offsetledger/internal/amqp"
	"offsetledger/internal/core"
	applog "offsetledger/internal/log"
)

type fakeStore struct {
	transactions map[int64]core.Transaction
	allocations  map[int64][]core.SplitAllocation
	users        []core.User
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		transactions: map[int64]core.Transaction{},
		allocations:  map[int64][]core.SplitAllocation{},
		users: []core.User{
			{ID: 1, Username: "default", DisplayName: "Default", IsActive: true},
			{ID: 2, Username: "alice", DisplayName: "Alice", IsActive: true},
			{ID: 3, Username: "bob", DisplayName: "Bob", IsActive: true},
		},
		nextID: 100,
	}
}

func (f *fakeStore) add(t core.Transaction) core.Transaction {
	f.nextID++
	t.ID = f.nextID
	f.transactions[t.ID] = t
	return t
}

func (f *fakeStore) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range f.transactions {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, ok := f.transactions[id]
	if !ok {
		return core.Transaction{}, errors.New("transaction not found")
	}
	return t, nil
}

func (f *fakeStore) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	return f.add(t), nil
}

func (f *fakeStore) UpdateTransactionFields(ctx context.Context, id int64, date time.Time, description string, amount core.Money, category string) (core.Transaction, error) {
	t, ok := f.transactions[id]
	if !ok {
		return core.Transaction{}, errors.New("transaction not found")
	}
	t.Date, t.Description, t.Amount, t.Category = date, description, amount, category
	f.transactions[id] = t
	return t, nil
}

func (f *fakeStore) CommitSplit(ctx context.Context, originalID int64, remaining core.Money, fragments []core.Transaction) ([]core.Transaction, error) {
	t, ok := f.transactions[originalID]
	if !ok {
		return nil, errors.New("transaction not found")
	}
	t.Amount = remaining
	t.HasSplit = true
	f.transactions[originalID] = t

	var created []core.Transaction
	for _, fr := range fragments {
		id := originalID
		fr.SplitFromID = &id
		created = append(created, f.add(fr))
	}
	return created, nil
}

func (f *fakeStore) ListCategories(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, t := range f.transactions {
		if t.Category != "" && !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	return out, nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]core.User, error) {
	return f.users, nil
}

func (f *fakeStore) GetAllocations(ctx context.Context, id int64) ([]core.SplitAllocation, error) {
	return f.allocations[id], nil
}

func (f *fakeStore) ListAllAllocations(ctx context.Context) (map[int64][]core.SplitAllocation, error) {
	return f.allocations, nil
}

func (f *fakeStore) ReplaceAllocations(ctx context.Context, id int64, allocs []core.SplitAllocation) error {
	if _, ok := f.transactions[id]; !ok {
		return errors.New("transaction not found")
	}
	f.allocations[id] = allocs
	return nil
}

func (f *fakeStore) DeleteAllocations(ctx context.Context, id int64) error {
	delete(f.allocations, id)
	return nil
}

type fakeSettings struct {
	display core.Settings
	order   []string
}

func (f *fakeSettings) Display() (core.Settings, error)     { return f.display, nil }
func (f *fakeSettings) SetDisplay(s core.Settings) error    { f.display = s; return nil }
func (f *fakeSettings) SetCategoryOrder(o []string) error   { f.order = o; return nil }
func (f *fakeSettings) CategoryOrder(live []string) ([]string, error) {
	if f.order != nil {
		return f.order, nil
	}
	return live, nil
}

type fakePublisher struct {
	published []*amqp.FeedRefreshMessage
	err       error
}

func (f *fakePublisher) PublishFeedRefresh(ctx context.Context, msg *amqp.FeedRefreshMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func newTestService(store *fakeStore, pub Publisher) *LedgerService {
	return NewLedgerService(store, pub, &fakeSettings{}, 30, applog.New(applog.DefaultConfig()))
}

func txDate() time.Time {
	return time.Date(2026, time.May, 10, 0, 0, 0, 0, time.UTC)
}

func TestCreateTransactionValidates(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)
	ctx := context.Background()

	created, err := svc.CreateTransaction(ctx, core.Transaction{
		Date: txDate(), Description: "Groceries", Amount: core.Money{Cents: -5000}, Category: "Food",
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error: %v", err)
	}
	if created.ID == 0 {
		t.Error("created transaction should have an id")
	}

	_, err = svc.CreateTransaction(ctx, core.Transaction{Date: txDate(), Description: "   "})
	if !errors.Is(err, core.ErrEmptyDescription) {
		t.Errorf("blank description error = %v, want ErrEmptyDescription", err)
	}

	_, err = svc.CreateTransaction(ctx, core.Transaction{Description: "no date"})
	if !errors.Is(err, core.ErrInvalidDate) {
		t.Errorf("zero date error = %v, want ErrInvalidDate", err)
	}
}

func TestCommitSplit(t *testing.T) {
	store := newFakeStore()
	original := store.add(core.Transaction{
		Date: txDate(), Description: "Supermarket", Amount: core.Money{Cents: -10000}, Category: "Groceries",
	})
	svc := newTestService(store, nil)

	result, err := svc.CommitSplit(context.Background(), original.ID, []core.SplitInput{
		{Description: "Cleaning", Category: "Household", Amount: "-30.00"},
		{Description: "Wine", Category: "Fun", Amount: "-25.00"},
	})
	if err != nil {
		t.Fatalf("CommitSplit() error: %v", err)
	}

	if result.Remaining.Cents != -4500 {
		t.Errorf("Remaining = %d, want -4500", result.Remaining.Cents)
	}
	if result.Original.Amount.Cents != -4500 || !result.Original.HasSplit {
		t.Errorf("original after split = %+v", result.Original)
	}
	if len(result.Fragments) != 2 {
		t.Fatalf("fragments = %d, want 2", len(result.Fragments))
	}
	for _, fr := range result.Fragments {
		if fr.SplitFromID == nil || *fr.SplitFromID != original.ID {
			t.Errorf("fragment %d not linked to original", fr.ID)
		}
		if !fr.Date.Equal(original.Date) {
			t.Errorf("fragment date = %v, want original date", fr.Date)
		}
	}
}

func TestCommitSplitRejectsBadInput(t *testing.T) {
	store := newFakeStore()
	original := store.add(core.Transaction{
		Date: txDate(), Description: "Supermarket", Amount: core.Money{Cents: -10000}, Category: "Groceries",
	})
	svc := newTestService(store, nil)
	ctx := context.Background()

	_, err := svc.CommitSplit(ctx, original.ID, nil)
	if !errors.Is(err, core.ErrSplitNoParts) {
		t.Errorf("empty splits error = %v, want ErrSplitNoParts", err)
	}

	_, err = svc.CommitSplit(ctx, original.ID, []core.SplitInput{
		{Description: "Too big", Category: "Fun", Amount: "-150.00"},
	})
	if !errors.Is(err, core.ErrSplitOverAllocate) {
		t.Errorf("over-allocation error = %v, want ErrSplitOverAllocate", err)
	}

	// Nothing was written.
	got, _ := store.GetTransaction(ctx, original.ID)
	if got.Amount.Cents != -10000 || got.HasSplit {
		t.Errorf("failed split must not modify the original: %+v", got)
	}
}

func TestSetSplitConfigEqual(t *testing.T) {
	store := newFakeStore()
	tx := store.add(core.Transaction{
		Date: txDate(), Description: "Dinner", Amount: core.Money{Cents: -10001}, Category: "Fun",
	})
	svc := newTestService(store, nil)

	got, err := svc.SetSplitConfig(context.Background(), tx.ID, core.SplitTypeEqual, []SplitConfigUser{
		{UserID: 2}, {UserID: 3},
	})
	if err != nil {
		t.Fatalf("SetSplitConfig() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("allocations = %d, want 2", len(got))
	}

	var sum int64
	for _, a := range got {
		sum += a.Amount.Cents
		if a.SplitType != core.SplitTypeEqual {
			t.Errorf("SplitType = %q, want equal", a.SplitType)
		}
		if a.Percentage == nil || *a.Percentage != 50.0 {
			t.Errorf("Percentage = %v, want 50", a.Percentage)
		}
	}
	if sum != -10001 {
		t.Errorf("allocation sum = %d, want the exact amount -10001", sum)
	}
}

func TestSetSplitConfigFixed(t *testing.T) {
	store := newFakeStore()
	tx := store.add(core.Transaction{
		Date: txDate(), Description: "Dinner", Amount: core.Money{Cents: -10000}, Category: "Fun",
	})
	svc := newTestService(store, nil)
	ctx := context.Background()

	amtA := core.Money{Cents: -7000}
	amtB := core.Money{Cents: -3000}
	got, err := svc.SetSplitConfig(ctx, tx.ID, core.SplitTypeFixed, []SplitConfigUser{
		{UserID: 2, Amount: &amtA},
		{UserID: 3, Amount: &amtB},
	})
	if err != nil {
		t.Fatalf("SetSplitConfig() error: %v", err)
	}
	if len(got) != 2 || got[0].Amount.Cents != -7000 {
		t.Errorf("allocations = %+v", got)
	}

	// Fixed split without an amount is rejected.
	_, err = svc.SetSplitConfig(ctx, tx.ID, core.SplitTypeFixed, []SplitConfigUser{{UserID: 2}})
	if !errors.Is(err, core.ErrSplitMissingField) {
		t.Errorf("missing amount error = %v, want ErrSplitMissingField", err)
	}

	// Amounts beyond the transaction are rejected.
	tooMuch := core.Money{Cents: -20000}
	_, err = svc.SetSplitConfig(ctx, tx.ID, core.SplitTypeFixed, []SplitConfigUser{{UserID: 2, Amount: &tooMuch}})
	if !errors.Is(err, core.ErrSplitOverAllocate) {
		t.Errorf("over-allocation error = %v, want ErrSplitOverAllocate", err)
	}

	// No participants at all.
	_, err = svc.SetSplitConfig(ctx, tx.ID, core.SplitTypeFixed, nil)
	if !errors.Is(err, core.ErrSplitNoParts) {
		t.Errorf("no participants error = %v, want ErrSplitNoParts", err)
	}
}

func TestDeleteSplitConfig(t *testing.T) {
	store := newFakeStore()
	tx := store.add(core.Transaction{
		Date: txDate(), Description: "Dinner", Amount: core.Money{Cents: -6000},
	})
	store.allocations[tx.ID] = []core.SplitAllocation{{UserID: 2, Amount: core.Money{Cents: -3000}}}
	svc := newTestService(store, nil)

	if err := svc.DeleteSplitConfig(context.Background(), tx.ID); err != nil {
		t.Fatalf("DeleteSplitConfig() error: %v", err)
	}
	if len(store.allocations[tx.ID]) != 0 {
		t.Error("allocations should be gone")
	}
}

func TestRequestFeedRefresh(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(newFakeStore(), pub)
	ctx := context.Background()

	seq1, err := svc.RequestFeedRefresh(ctx)
	if err != nil {
		t.Fatalf("RequestFeedRefresh() error: %v", err)
	}
	seq2, err := svc.RequestFeedRefresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seq2 <= seq1 {
		t.Errorf("sequences must increase: %d then %d", seq1, seq2)
	}
	if len(pub.published) != 2 {
		t.Fatalf("published = %d, want 2", len(pub.published))
	}
	if pub.published[0].WindowDays != 30 {
		t.Errorf("WindowDays = %d, want 30", pub.published[0].WindowDays)
	}
}

func TestRequestFeedRefreshWithoutBroker(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)

	if _, err := svc.RequestFeedRefresh(context.Background()); !errors.Is(err, ErrRefreshUnavailable) {
		t.Errorf("error = %v, want ErrRefreshUnavailable", err)
	}
}

func TestBucketsUsesSettingsAndCache(t *testing.T) {
	store := newFakeStore()
	store.add(core.Transaction{Date: txDate(), Description: "a", Amount: core.Money{Cents: 100000}, Category: "Savings"})
	store.add(core.Transaction{Date: txDate(), Description: "b", Amount: core.Money{Cents: -40000}, Category: "Spending"})

	settings := &fakeSettings{display: core.Settings{SelectedNegativeOffsetBucket: "Savings"}}
	svc := NewLedgerService(store, nil, settings, 30, applog.New(applog.DefaultConfig()))
	ctx := context.Background()

	summary, err := svc.Buckets(ctx)
	if err != nil {
		t.Fatalf("Buckets() error: %v", err)
	}
	if summary.GrandTotal.Cents != 60000 {
		t.Errorf("GrandTotal = %d, want 60000 (offset absorbed)", summary.GrandTotal.Cents)
	}

	// A write purges the cached summary.
	if _, err := svc.CreateTransaction(ctx, core.Transaction{
		Date: txDate(), Description: "c", Amount: core.Money{Cents: 10000}, Category: "Savings",
	}); err != nil {
		t.Fatal(err)
	}
	summary, err = svc.Buckets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.GrandTotal.Cents != 70000 {
		t.Errorf("GrandTotal after write = %d, want 70000", summary.GrandTotal.Cents)
	}
}

func TestBucketsFiltered(t *testing.T) {
	store := newFakeStore()
	store.add(core.Transaction{Date: txDate(), Description: "a", Amount: core.Money{Cents: 5000}, Category: "Savings"})
	store.add(core.Transaction{Date: txDate(), Description: "b", Amount: core.Money{Cents: 3000}, Category: "Fun"})

	svc := newTestService(store, nil)
	fun := "Fun"
	summary, err := svc.BucketsFiltered(context.Background(), core.Filter{Categories: []*string{&fun}})
	if err != nil {
		t.Fatalf("BucketsFiltered() error: %v", err)
	}
	if summary.GrandTotal.Cents != 3000 {
		t.Errorf("GrandTotal = %d, want 3000 (only Fun)", summary.GrandTotal.Cents)
	}
	if len(summary.Buckets) != 1 || summary.Buckets[0].Name != "Fun" {
		t.Errorf("Buckets = %+v", summary.Buckets)
	}
}

func TestInitialData(t *testing.T) {
	store := newFakeStore()
	label := "Alice"
	store.add(core.Transaction{Date: txDate(), Description: "a", Amount: core.Money{Cents: -100}, Category: "Food", Label: &label})
	store.add(core.Transaction{Date: txDate(), Description: "b", Amount: core.Money{Cents: -200}, Category: "Rent"})

	svc := newTestService(store, nil)
	got, err := svc.InitialData(context.Background())
	if err != nil {
		t.Fatalf("InitialData() error: %v", err)
	}

	if len(got.Transactions) != 2 {
		t.Errorf("Transactions = %d, want 2", len(got.Transactions))
	}
	if len(got.Categories) != 2 {
		t.Errorf("Categories = %v", got.Categories)
	}
	// The system account never shows up in the user list.
	for _, u := range got.Users {
		if u.IsSystem() {
			t.Error("system user leaked into InitialData")
		}
	}
	if len(got.LabelOptions) == 0 {
		t.Error("LabelOptions should include the legacy label and the blank option")
	}
}

func TestUpdateSettingsRoundTrip(t *testing.T) {
	store := newFakeStore()
	store.add(core.Transaction{Date: txDate(), Description: "a", Amount: core.Money{Cents: -100}, Category: "Food"})
	settings := &fakeSettings{}
	svc := NewLedgerService(store, nil, settings, 30, applog.New(applog.DefaultConfig()))
	ctx := context.Background()

	got, err := svc.UpdateSettings(ctx, core.Settings{
		HideZeroBalanceBuckets:       true,
		SelectedNegativeOffsetBucket: "Food",
		CategoryOrder:                []string{"Food"},
	})
	if err != nil {
		t.Fatalf("UpdateSettings() error: %v", err)
	}
	if !got.HideZeroBalanceBuckets || got.SelectedNegativeOffsetBucket != "Food" {
		t.Errorf("UpdateSettings() = %+v", got)
	}
	if len(got.CategoryOrder) != 1 || got.CategoryOrder[0] != "Food" {
		t.Errorf("CategoryOrder = %v", got.CategoryOrder)
	}
}
