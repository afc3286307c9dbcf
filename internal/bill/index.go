package bill

// AssignmentIndex maps a receipt line index to the people holding it, in split order.
// It is derived from a BillSplit and never stored.
type AssignmentIndex map[int][]string

// Index builds the assignment index for a split
func Index(split BillSplit) AssignmentIndex {
	ix := make(AssignmentIndex)
	for _, p := range split {
		for _, a := range p.AssignedItems {
			ix[a.ItemIndex] = append(ix[a.ItemIndex], p.PersonName)
		}
	}
	return ix
}

// Holders returns who holds the item at itemIndex
func (ix AssignmentIndex) Holders(itemIndex int) []string {
	return ix[itemIndex]
}

// Unassigned returns the indexes of receipt lines nobody holds
func (ix AssignmentIndex) Unassigned(receipt Receipt) []int {
	out := make([]int, 0)
	for i := range receipt.Items {
		if len(ix[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}
