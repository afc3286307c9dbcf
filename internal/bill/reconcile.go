package bill

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// portionTolerance is how far an item's proposed portions may drift from its price
// before they are re-partitioned equally
const portionTolerance = 0.01

// AssignItem makes names the holders of the receipt line at itemIndex, replacing any
// previous holders. The price is partitioned equally; the last holder absorbs the
// floating point remainder so the portions always add up to the price. An empty names
// list unassigns the item. Names are trimmed, blanks ignored and duplicates collapsed
// to their first occurrence.
func AssignItem(split BillSplit, receipt Receipt, itemIndex int, names []string) (BillSplit, error) {
	if itemIndex < 0 || itemIndex >= len(receipt.Items) {
		return nil, fmt.Errorf("%w: index %d", ErrItemNotFound, itemIndex)
	}
	item := receipt.Items[itemIndex]

	work := split.Clone()
	for i := range work {
		work[i].AssignedItems = slices.DeleteFunc(work[i].AssignedItems, func(a AssignedItem) bool {
			return a.ItemIndex == itemIndex
		})
	}

	people := uniqueNames(names)
	for i, portion := range partition(item.Price, len(people)) {
		name := people[i]
		pos := work.indexOf(name)
		if pos < 0 {
			work = append(work, PersonSplit{PersonName: name})
			pos = len(work) - 1
		}
		work[pos].AssignedItems = append(work[pos].AssignedItems, AssignedItem{
			ItemIndex:    itemIndex,
			ItemName:     item.Name,
			PricePortion: portion,
		})
	}

	return Recompute(work.withoutEmpty(), receipt), nil
}

// MergeExternalSplit accepts a complete replacement split proposed by an external
// interpreter. Who holds what is taken from the proposal; every amount is derived
// locally. Item references are resolved against the receipt by index, or by name when
// the index is missing or disagrees with the name. If any part of the proposal cannot
// be resolved the whole proposal is rejected and current is returned as is.
func MergeExternalSplit(current, proposed BillSplit, receipt Receipt) (BillSplit, error) {
	merged := make(BillSplit, 0, len(proposed))
	for _, p := range proposed {
		name := strings.TrimSpace(p.PersonName)
		if name == "" {
			return current, fmt.Errorf("%w: person without a name", ErrInvalidProposal)
		}

		pos := merged.indexOf(name)
		if pos < 0 {
			merged = append(merged, PersonSplit{PersonName: name})
			pos = len(merged) - 1
		}

		for _, a := range p.AssignedItems {
			if math.IsNaN(a.PricePortion) || math.IsInf(a.PricePortion, 0) {
				return current, fmt.Errorf("%w: non-numeric portion for %s", ErrInvalidProposal, name)
			}
			index, err := resolveItem(receipt, a)
			if err != nil {
				return current, err
			}
			merged[pos].AssignedItems = addPortion(merged[pos].AssignedItems, index, receipt.Items[index].Name, a.PricePortion)
		}
	}

	merged = merged.withoutEmpty()
	conserve(merged, receipt)
	return Recompute(merged, receipt), nil
}

func resolveItem(receipt Receipt, a AssignedItem) (int, error) {
	if a.ItemIndex >= 0 && a.ItemIndex < len(receipt.Items) {
		if a.ItemName == "" || sameName(a.ItemName, receipt.Items[a.ItemIndex].Name) {
			return a.ItemIndex, nil
		}
	}
	if a.ItemName == "" {
		return 0, fmt.Errorf("%w: unknown item index %d", ErrInvalidProposal, a.ItemIndex)
	}

	found := -1
	for i, item := range receipt.Items {
		if !sameName(a.ItemName, item.Name) {
			continue
		}
		if found >= 0 {
			return 0, fmt.Errorf("%w: %q matches more than one item", ErrInvalidProposal, a.ItemName)
		}
		found = i
	}
	if found < 0 {
		return 0, fmt.Errorf("%w: unknown item %q", ErrInvalidProposal, a.ItemName)
	}
	return found, nil
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func addPortion(items []AssignedItem, index int, name string, portion float64) []AssignedItem {
	for i := range items {
		if items[i].ItemIndex == index {
			items[i].PricePortion += portion
			return items
		}
	}
	return append(items, AssignedItem{ItemIndex: index, ItemName: name, PricePortion: portion})
}

// conserve makes the portions of every held item add up to the item's price
func conserve(split BillSplit, receipt Receipt) {
	type holding struct{ person, entry int }

	holders := make(map[int][]holding)
	for pi, p := range split {
		for ei, a := range p.AssignedItems {
			holders[a.ItemIndex] = append(holders[a.ItemIndex], holding{pi, ei})
		}
	}

	for index, held := range holders {
		price := receipt.Items[index].Price
		var sum float64
		for _, h := range held {
			sum += split[h.person].AssignedItems[h.entry].PricePortion
		}

		if math.Abs(sum-price) > portionTolerance {
			for i, portion := range partition(price, len(held)) {
				h := held[i]
				split[h.person].AssignedItems[h.entry].PricePortion = portion
			}
			continue
		}

		var rest float64
		for _, h := range held[:len(held)-1] {
			rest += split[h.person].AssignedItems[h.entry].PricePortion
		}
		last := held[len(held)-1]
		split[last.person].AssignedItems[last.entry].PricePortion = price - rest
	}
}

// partition divides price into n equal portions, the last taking the remainder
func partition(price float64, n int) []float64 {
	if n == 0 {
		return nil
	}
	portions := make([]float64, n)
	share := price / float64(n)
	var rest float64
	for i := 0; i < n-1; i++ {
		portions[i] = share
		rest += share
	}
	portions[n-1] = price - rest
	return portions
}

func uniqueNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}
