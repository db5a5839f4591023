package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	applog "offsetledger/internal/log"
)

func testLogger() *applog.Logger {
	return applog.New(applog.DefaultConfig())
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestFetchTransactionsPagination(t *testing.T) {
	pages := map[int]string{
		1: `[{"id": 1, "date": "2026-04-01", "payee": "COFFEE", "amount": -4.5, "closing_balance": 900.0},
		    {"id": 2, "date": "2026-04-02", "payee": "RENT", "amount": "-1200.00"}]`,
		2: `[{"id": 3, "date": "2026-04-03", "payee": "SALARY", "amount": 2500}]`,
		3: `[]`,
	}

	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Developer-Key")
		if r.URL.Path != "/accounts/acct-1/transactions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, pages[page])
	}))
	defer server.Close()

	client := NewClient(server.URL, "key-123", "acct-1", testLogger())
	got, err := client.FetchTransactions(context.Background(), mustDate(t, "2026-03-01"))
	if err != nil {
		t.Fatalf("FetchTransactions() error: %v", err)
	}

	if gotKey != "key-123" {
		t.Errorf("X-Developer-Key = %q, want key-123", gotKey)
	}
	if len(got) != 3 {
		t.Fatalf("fetched %d transactions, want 3", len(got))
	}
	if got[0].Payee != "COFFEE" || got[0].Amount.Cents != -450 {
		t.Errorf("first row = %+v", got[0])
	}
	if got[0].ClosingBalance == nil || got[0].ClosingBalance.Cents != 90000 {
		t.Errorf("closing balance = %v, want 90000", got[0].ClosingBalance)
	}
	if got[1].Amount.Cents != -120000 {
		t.Errorf("string amount = %d, want -120000", got[1].Amount.Cents)
	}
	if got[1].ClosingBalance != nil {
		t.Error("missing closing balance should stay nil")
	}
	if got[2].Amount.Cents != 250000 {
		t.Errorf("integer amount = %d, want 250000", got[2].Amount.Cents)
	}
}

func TestFetchTransactions404PastFirstPageEndsPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 1 {
			json.NewEncoder(w).Encode([]FeedTransaction{{ID: 1, Date: "2026-04-01", Payee: "X"}})
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "a", testLogger())
	got, err := client.FetchTransactions(context.Background(), mustDate(t, "2026-03-01"))
	if err != nil {
		t.Fatalf("FetchTransactions() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("fetched %d, want 1", len(got))
	}
}

func TestFetchTransactions404OnFirstPageIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "a", testLogger())
	if _, err := client.FetchTransactions(context.Background(), mustDate(t, "2026-03-01")); err == nil {
		t.Error("404 on the first page should be an error")
	}
}

func TestFetchTransactionsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "a", testLogger())
	if _, err := client.FetchTransactions(context.Background(), mustDate(t, "2026-03-01")); err == nil {
		t.Error("500 should be an error")
	}
}
