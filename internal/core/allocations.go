package core

// EqualShares divides an amount into n shares that differ by at most one
// cent and sum exactly to the total. The leftover cents land on the first
// shares, largest-remainder style.
func EqualShares(total Money, n int) []Money {
	if n <= 0 {
		return nil
	}
	base := total.Cents / int64(n)
	rem := total.Cents - base*int64(n)

	step := int64(1)
	if rem < 0 {
		step = -1
		rem = -rem
	}

	shares := make([]Money, n)
	for i := range shares {
		shares[i] = Money{Cents: base}
		if int64(i) < rem {
			shares[i].Cents += step
		}
	}
	return shares
}

// AllocationsSum adds up the share amounts for one transaction. Downstream
// reconciliation assumes this equals the transaction total, but the resolver
// never enforces it.
func AllocationsSum(allocs []SplitAllocation) Money {
	var sum int64
	for _, a := range allocs {
		sum += a.Amount.Cents
	}
	return Money{Cents: sum}
}
