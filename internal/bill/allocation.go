package bill

// Recompute derives every person's subtotal, tax, tip and total from their assigned
// portions and the receipt's aggregates. The result is a new split; the input is not
// modified. Tax and tip are distributed in proportion to each person's share of the
// receipt subtotal, so a receipt with a zero subtotal has no defined ratio and the
// split is returned unchanged.
func Recompute(split BillSplit, receipt Receipt) BillSplit {
	out := split.Clone()
	if Degenerate(receipt) {
		return out
	}

	for i := range out {
		p := &out[i]
		var subtotal float64
		for _, item := range p.AssignedItems {
			subtotal += item.PricePortion
		}
		ratio := subtotal / receipt.Subtotal
		p.Subtotal = subtotal
		p.Tax = receipt.Tax * ratio
		p.Tip = receipt.Tip * ratio
		p.Total = subtotal + p.Tax + p.Tip
	}
	return out
}

// Degenerate reports whether tax and tip cannot be distributed for the receipt
func Degenerate(receipt Receipt) bool {
	return receipt.Subtotal == 0
}

// SplitTotal is the sum of every person's total
func SplitTotal(split BillSplit) float64 {
	var total float64
	for _, p := range split {
		total += p.Total
	}
	return total
}
