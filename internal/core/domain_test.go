package core

import (
	"errors"
	"strings"
	"testing"
)

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{Date: day("2023-02-01"), Description: "Groceries", Amount: Money{Cents: -2000}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{"zero date", func(tx *Transaction) { *tx = Transaction{Description: "x"} }, ErrInvalidDate},
		{"blank description", func(tx *Transaction) { tx.Description = "   " }, ErrEmptyDescription},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := valid
			tc.mutate(&tx)
			if err := tx.Validate(); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	long := valid
	long.Description = strings.Repeat("x", 201)
	if err := long.Validate(); err == nil {
		t.Fatal("expected error for overlong description")
	}
}

func TestCategoryOrDefault(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Food", "Food"},
		{"", Uncategorized},
		{"   ", Uncategorized},
	}
	for _, tc := range cases {
		tx := Transaction{Category: tc.in}
		if got := tx.CategoryOrDefault(); got != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestIsFragment(t *testing.T) {
	parent := int64(42)
	if (Transaction{}).IsFragment() {
		t.Fatal("plain transaction is not a fragment")
	}
	if !(Transaction{SplitFromID: &parent}).IsFragment() {
		t.Fatal("transaction with a parent reference is a fragment")
	}
}

func TestUserIsSystem(t *testing.T) {
	if !(User{Username: SystemUsername}).IsSystem() {
		t.Fatal("default username marks the system account")
	}
	if (User{Username: "alice"}).IsSystem() {
		t.Fatal("regular user is not the system account")
	}
}
