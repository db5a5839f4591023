package core

import (
	"fmt"
	"strings"
)

// SplitInput is one proposed child transaction in a split request. Amount is
// kept raw because payloads send it as either a string or a number; parsing
// is part of validation.
type SplitInput struct {
	Description string
	Category    string
	Amount      string
}

// ValidateSplit checks a proposed set of child transactions against the
// original and returns the remaining amount left on the original record.
// A nonzero remainder is legal (partial split).
//
// Rules, in order: every split needs a description, a category and a
// parseable amount; split signs must match the original's side of zero; the
// split sum must not exceed the original in magnitude.
func ValidateSplit(original Transaction, splits []SplitInput) (Money, error) {
	if len(splits) == 0 {
		return Money{}, ErrSplitNoParts
	}

	var sum int64
	for i, s := range splits {
		if strings.TrimSpace(s.Description) == "" || strings.TrimSpace(s.Category) == "" {
			return Money{}, fmt.Errorf("split %d: %w", i+1, ErrSplitMissingField)
		}
		cents, err := ParseSignedToCents(s.Amount)
		if err != nil {
			return Money{}, fmt.Errorf("split %d: %w", i+1, ErrSplitMissingField)
		}

		switch {
		case original.Amount.Cents < 0 && cents > 0:
			return Money{}, fmt.Errorf("split %d: expense split must not be positive: %w", i+1, ErrSplitSignMismatch)
		case original.Amount.Cents > 0 && cents < 0:
			return Money{}, fmt.Errorf("split %d: income split must not be negative: %w", i+1, ErrSplitSignMismatch)
		}
		sum += cents
	}

	// Conservation on the original's side of zero: for an expense the sum may
	// not be more negative than the original, for income not larger.
	if original.Amount.Cents < 0 && sum < original.Amount.Cents {
		return Money{}, fmt.Errorf("splits total %s exceeds original %s: %w",
			Money{Cents: sum}, original.Amount, ErrSplitOverAllocate)
	}
	if original.Amount.Cents >= 0 && sum > original.Amount.Cents {
		return Money{}, fmt.Errorf("splits total %s exceeds original %s: %w",
			Money{Cents: sum}, original.Amount, ErrSplitOverAllocate)
	}

	return Money{Cents: original.Amount.Cents - sum}, nil
}
