package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Shared-ownership labels produced by the resolver for equal splits.
const (
	LabelBoth     = "Both"
	LabelAllUsers = "All users"
)

// LabelKind tags where a transaction's display label came from.
type LabelKind int

const (
	LabelNone    LabelKind = iota // unallocated, no legacy label either
	LabelLegacy                   // raw label field written by pre-split records
	LabelDerived                  // computed from split allocations
)

// LabelSource is the resolved label for one transaction. Value is only
// meaningful when Kind is not LabelNone.
type LabelSource struct {
	Kind  LabelKind
	Value string
}

// LabelView maps transaction ids to their resolved label, built once per
// snapshot so filtering and option enumeration agree with row display.
// A nil LabelView resolves everything to "no label".
type LabelView map[int64]LabelSource

// ResolveLabel derives the display label for a transaction from its per-user
// allocations. It returns nil while allocation data is still loading (callers
// render a spinner, which is distinct from "no label") and nil for
// unallocated transactions.
//
// The checks run in order and short-circuit:
//  1. loading, no users, or no allocation data at all -> nil
//  2. no allocations for this transaction -> nil
//  3. exactly one allocation -> that user's name
//  4. equal split of two -> "Both"; equal split of three or more -> "All users"
//  5. anything else -> "<first name> +<rest>"
func ResolveLabel(tx Transaction, allocations map[int64][]SplitAllocation, users []User, loading bool) *string {
	if loading || len(users) == 0 || allocations == nil {
		return nil
	}

	allocs := allocations[tx.ID]
	if len(allocs) == 0 {
		return nil
	}

	if len(allocs) == 1 {
		name := allocs[0].DisplayName
		return &name
	}

	if isEqualSplit(allocs) {
		label := LabelAllUsers
		if len(allocs) == 2 {
			label = LabelBoth
		}
		return &label
	}

	label := fmt.Sprintf("%s +%d", allocs[0].DisplayName, len(allocs)-1)
	return &label
}

// isEqualSplit applies the equal-split precedence: explicit equal type codes
// first, then percentages near 100/n, then near-identical magnitudes.
func isEqualSplit(allocs []SplitAllocation) bool {
	allEqualType := true
	for _, a := range allocs {
		if a.SplitType != SplitTypeEqual {
			allEqualType = false
			break
		}
	}
	if allEqualType {
		return true
	}

	expected := 100.0 / float64(len(allocs))
	allPercent := true
	for _, a := range allocs {
		if a.Percentage == nil || math.Abs(*a.Percentage-expected) > 0.1 {
			allPercent = false
			break
		}
	}
	if allPercent {
		return true
	}

	// Magnitudes within one cent of each other count as equal; splitting an
	// odd total leaves a one-cent remainder on one share.
	minAbs, maxAbs := allocs[0].Amount.Abs(), allocs[0].Amount.Abs()
	for _, a := range allocs[1:] {
		abs := a.Amount.Abs()
		if abs < minAbs {
			minAbs = abs
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs-minAbs <= 1
}

// BuildLabelView resolves every transaction's label once. A non-empty legacy
// label wins over the derived one; the resolver only runs for transactions
// without a usable legacy label.
func BuildLabelView(txs []Transaction, allocations map[int64][]SplitAllocation, users []User, loading bool) LabelView {
	view := make(LabelView, len(txs))
	for _, t := range txs {
		if t.Label != nil && strings.TrimSpace(*t.Label) != "" {
			view[t.ID] = LabelSource{Kind: LabelLegacy, Value: *t.Label}
			continue
		}
		if derived := ResolveLabel(t, allocations, users, loading); derived != nil {
			view[t.ID] = LabelSource{Kind: LabelDerived, Value: *derived}
			continue
		}
		view[t.ID] = LabelSource{Kind: LabelNone}
	}
	return view
}

// Resolve returns the label value for a transaction, or nil when it has none.
func (v LabelView) Resolve(t Transaction) *string {
	if v == nil {
		return nil
	}
	src, ok := v[t.ID]
	if !ok || src.Kind == LabelNone {
		return nil
	}
	value := src.Value
	return &value
}

// LabelFilterOptions enumerates every label value reachable over the given
// transactions, in presentation order: name labels alphabetically, then
// "Both" and "All users" when reachable, then nil last when any transaction
// is unallocated. The order is part of the contract; callers render it as-is.
func LabelFilterOptions(txs []Transaction, view LabelView) []*string {
	seen := make(map[string]bool)
	hasUnlabeled := false
	for _, t := range txs {
		value := view.Resolve(t)
		if value == nil {
			hasUnlabeled = true
			continue
		}
		seen[*value] = true
	}

	names := make([]string, 0, len(seen))
	for value := range seen {
		if value == LabelBoth || value == LabelAllUsers {
			continue
		}
		names = append(names, value)
	}
	sort.Strings(names)

	options := make([]*string, 0, len(names)+3)
	for i := range names {
		options = append(options, &names[i])
	}
	if seen[LabelBoth] {
		both := LabelBoth
		options = append(options, &both)
	}
	if seen[LabelAllUsers] {
		all := LabelAllUsers
		options = append(options, &all)
	}
	if hasUnlabeled {
		options = append(options, nil)
	}
	return options
}

// ActiveUsers filters out inactive accounts and the system account, sorted by
// display name for stable presentation.
func ActiveUsers(users []User) []User {
	out := make([]User, 0, len(users))
	for _, u := range users {
		if !u.IsActive || u.IsSystem() {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}
