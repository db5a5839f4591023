package core

// Bucket is one category's aggregate, displayed as a savings-bucket card.
type Bucket struct {
	Name          string
	Total         Money
	Count         int
	Percentage    float64
	IncludedInSum bool
}

// Summary is the result of aggregating a transaction snapshot by category
// and reconciling it against the bank-reported closing balance.
type Summary struct {
	Buckets    []Bucket // display list: ordered, zero buckets dropped when asked
	GrandTotal Money
	Reconciled bool
	Difference Money
	// Reconcilable is false when no transaction carries a closing balance,
	// in which case Reconciled and Difference are meaningless.
	Reconcilable bool
}

// TxPreferred orders transactions for the "latest closing balance" pick:
// it reports whether b should be preferred over a.
type TxPreferred func(a, b Transaction) bool

// ByHighestID picks the transaction with the numerically highest id as the
// most recent. Feed ids are assigned in import order, which tracks recency
// only as long as history is never backfilled out of order.
func ByHighestID(a, b Transaction) bool { return b.ID > a.ID }

// ByLatestDate picks the transaction with the latest calendar date, breaking
// ties by id.
func ByLatestDate(a, b Transaction) bool {
	if !a.Date.Equal(b.Date) {
		return b.Date.After(a.Date)
	}
	return b.ID > a.ID
}

// AggregateOptions tune one aggregation run. The zero value groups with no
// offset bucket, shows zero buckets, keeps discovery order and picks the
// closing balance by highest id.
type AggregateOptions struct {
	OffsetBucket string   // bucket that absorbs other buckets' negative totals
	HideZero     bool     // drop near-zero buckets from the display list only
	Order        []string // preferred display order; unknown names sort after
	LatestBy     TxPreferred
}

// AggregateByCategory groups transactions into per-category buckets, applies
// the negative-offset adjustment, computes the grand total over included
// buckets and reconciles it against the latest closing balance.
//
// The function never panics on malformed input; a transaction that cannot
// contribute contributes zero.
func AggregateByCategory(txs []Transaction, opts AggregateOptions) Summary {
	totals := make(map[string]*Bucket)
	discovery := make([]string, 0)

	for _, t := range txs {
		name := t.CategoryOrDefault()
		b, ok := totals[name]
		if !ok {
			b = &Bucket{Name: name}
			totals[name] = b
			discovery = append(discovery, name)
		}
		b.Total.Cents += t.Amount.Cents
		b.Count++
	}

	// Offset adjustment: the designated bucket absorbs the negative totals of
	// every other bucket. Applied once, never recursively, even if the offset
	// bucket itself goes negative as a result.
	offset, hasOffset := totals[opts.OffsetBucket]
	if opts.OffsetBucket != "" && hasOffset {
		var otherNegatives int64
		for name, b := range totals {
			if name != opts.OffsetBucket && b.Total.Cents < 0 {
				otherNegatives += b.Total.Cents
			}
		}
		offset.Total.Cents += otherNegatives
	}

	// A bucket counts toward the grand total when its adjusted total is
	// non-negative, or it is the designated offset bucket. Negative buckets
	// stay visible but are tagged excluded.
	var grandTotal int64
	for name, b := range totals {
		b.IncludedInSum = b.Total.Cents >= 0 || (opts.OffsetBucket != "" && name == opts.OffsetBucket)
		if b.IncludedInSum {
			grandTotal += b.Total.Cents
		}
	}

	for _, b := range totals {
		if b.IncludedInSum && grandTotal != 0 {
			b.Percentage = float64(b.Total.Cents) / float64(grandTotal) * 100
		}
	}

	summary := Summary{GrandTotal: Money{Cents: grandTotal}}

	latestBy := opts.LatestBy
	if latestBy == nil {
		latestBy = ByHighestID
	}
	if latest, ok := latestTransaction(txs, latestBy); ok && latest.ClosingBalance != nil {
		summary.Reconcilable = true
		summary.Difference = Money{Cents: grandTotal - latest.ClosingBalance.Cents}
		summary.Reconciled = summary.Difference.Cents == 0
	}

	// Display list: caller-supplied order first, then the rest in discovery
	// order. Zero-bucket hiding only affects this list; the grand total and
	// percentages above are computed over everything.
	for _, name := range orderedNames(discovery, opts.Order) {
		b := totals[name]
		if opts.HideZero && b.Total.Cents == 0 {
			continue
		}
		summary.Buckets = append(summary.Buckets, *b)
	}
	return summary
}

func latestTransaction(txs []Transaction, prefer TxPreferred) (Transaction, bool) {
	if len(txs) == 0 {
		return Transaction{}, false
	}
	latest := txs[0]
	for _, t := range txs[1:] {
		if prefer(latest, t) {
			latest = t
		}
	}
	return latest, true
}

// orderedNames sorts discovered names by their position in the preferred
// order; names not in it come after, keeping their discovery order.
func orderedNames(discovery, preferred []string) []string {
	rank := make(map[string]int, len(preferred))
	for i, name := range preferred {
		rank[name] = i
	}

	ordered := make([]string, 0, len(discovery))
	var rest []string
	for _, name := range discovery {
		if _, ok := rank[name]; ok {
			ordered = append(ordered, name)
		} else {
			rest = append(rest, name)
		}
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && rank[ordered[j]] < rank[ordered[j-1]]; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return append(ordered, rest...)
}
