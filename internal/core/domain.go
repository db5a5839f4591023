package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// Uncategorized is the bucket name assigned to transactions without a category.
	Uncategorized = "Uncategorized"

	// SystemUsername marks the non-human system account. It is excluded from
	// label generation and every user-facing aggregation.
	SystemUsername = "default"
)

const (
	SplitTypeFixed SplitType = "fixed"
	SplitTypeEqual SplitType = "equal"
)

type (
	// SplitType says how a transaction's amount is shared between users.
	SplitType string

	// Transaction is a single ledger row for the offset account.
	Transaction struct {
		ID             int64
		Date           time.Time // day-level resolution
		Description    string
		Amount         Money
		Category       string  // empty = uncategorized
		Label          *string // legacy label set directly by pre-split records
		ClosingBalance *Money  // bank-reported running balance, when the feed supplies one
		HasSplit       bool
		SplitFromID    *int64
	}

	// SplitAllocation is one user's monetary share of a single transaction.
	SplitAllocation struct {
		UserID      int64
		DisplayName string
		Amount      Money
		SplitType   SplitType
		Percentage  *float64 // only meaningful for equal/percentage splits
	}

	// User is a household member that can own a share of a transaction.
	User struct {
		ID          int64
		DisplayName string
		Username    string
		IsActive    bool
	}

	// Settings are display preferences, persisted independently of ledger data.
	Settings struct {
		HideZeroBalanceBuckets       bool
		SelectedNegativeOffsetBucket string
		CategoryOrder                []string
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidDate      = errors.New("invalid date")

	ErrSplitNoParts      = errors.New("at least one split is required")
	ErrSplitMissingField = errors.New("split is missing required fields")
	ErrSplitSignMismatch = errors.New("split amount sign does not match the original")
	ErrSplitOverAllocate = errors.New("split amounts exceed the original amount")
)

// CategoryOrDefault returns the transaction's category, falling back to
// Uncategorized for missing or blank values.
func (t Transaction) CategoryOrDefault() string {
	if strings.TrimSpace(t.Category) == "" {
		return Uncategorized
	}
	return t.Category
}

// IsFragment reports whether this transaction was carved out of another one.
func (t Transaction) IsFragment() bool {
	return t.SplitFromID != nil
}

func (t Transaction) Validate() error {
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

// IsSystem reports whether the user is the reserved system account.
func (u User) IsSystem() bool {
	return u.Username == SystemUsername
}
