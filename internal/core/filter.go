package core

import (
	"sort"
	"strings"
	"time"
)

// Sort keys accepted by ApplyFilters. Anything else preserves input order.
const (
	SortDateAsc         = "date_asc"
	SortDateDesc        = "date_desc"
	SortAmountAsc       = "amount_asc"
	SortAmountDesc      = "amount_desc"
	SortDescriptionAsc  = "description_asc"
	SortDescriptionDesc = "description_desc"
)

// DateFilter is an inclusive calendar range. A nil bound leaves that side
// open; both nil means no date filtering at all.
type DateFilter struct {
	Start *time.Time
	End   *time.Time
}

// Filter collects the predicates and sort order applied to a transaction list.
//
// Categories and Labels are option sets: an empty set means "no filtering on
// that dimension", and a nil member matches transactions whose value is
// missing or empty. Label members are resolved labels (see LabelView), not
// the raw field.
type Filter struct {
	Date       DateFilter
	Categories []*string
	Labels     []*string
	SortBy     string
}

// ApplyFilters returns a new slice holding the transactions that pass every
// active predicate, sorted per SortBy. The input is never mutated and ties
// keep their input order. Applying the same filter twice yields the same
// result as applying it once.
func ApplyFilters(txs []Transaction, f Filter, labels LabelView) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if !matchesDate(t, f.Date) {
			continue
		}
		if !matchesOption(categoryValue(t), f.Categories) {
			continue
		}
		if !matchesOption(labels.Resolve(t), f.Labels) {
			continue
		}
		out = append(out, t)
	}
	sortTransactions(out, f.SortBy)
	return out
}

func matchesDate(t Transaction, d DateFilter) bool {
	if d.Start != nil && t.Date.Before(startOfDay(*d.Start)) {
		return false
	}
	if d.End != nil && t.Date.After(endOfDay(*d.End)) {
		return false
	}
	return true
}

// endOfDay normalizes the end bound to 23:59:59.999999999 so a transaction
// dated exactly on the end day stays inside the range.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// categoryValue returns nil for a missing/blank category so it can be matched
// by an explicit nil filter member.
func categoryValue(t Transaction) *string {
	if strings.TrimSpace(t.Category) == "" {
		return nil
	}
	c := t.Category
	return &c
}

func matchesOption(value *string, wanted []*string) bool {
	if len(wanted) == 0 {
		return true // no filter = show all
	}
	for _, w := range wanted {
		if w == nil {
			if value == nil || strings.TrimSpace(*value) == "" {
				return true
			}
			continue
		}
		if value != nil && *value == *w {
			return true
		}
	}
	return false
}

func sortTransactions(txs []Transaction, sortBy string) {
	var less func(a, b Transaction) bool
	switch sortBy {
	case SortDateAsc:
		less = func(a, b Transaction) bool { return a.Date.Before(b.Date) }
	case SortDateDesc:
		less = func(a, b Transaction) bool { return b.Date.Before(a.Date) }
	case SortAmountAsc:
		less = func(a, b Transaction) bool { return a.Amount.Cents < b.Amount.Cents }
	case SortAmountDesc:
		less = func(a, b Transaction) bool { return b.Amount.Cents < a.Amount.Cents }
	case SortDescriptionAsc:
		less = func(a, b Transaction) bool {
			return strings.ToLower(a.Description) < strings.ToLower(b.Description)
		}
	case SortDescriptionDesc:
		less = func(a, b Transaction) bool {
			return strings.ToLower(b.Description) < strings.ToLower(a.Description)
		}
	default:
		// Unknown or absent sort key: keep input order.
		return
	}
	sort.SliceStable(txs, func(i, j int) bool { return less(txs[i], txs[j]) })
}
