package bill

import "slices"

// LineItem is a single line on a receipt
type LineItem struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"` // Net line price, negative for discounts
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// Receipt is the structured form of a scanned bill
type Receipt struct {
	Items    []LineItem `json:"items"`
	Subtotal float64    `json:"subtotal"`
	Tax      float64    `json:"tax"`
	Tip      float64    `json:"tip"`
	Total    float64    `json:"total"`
}

// Clone returns a deep copy of the receipt
func (r Receipt) Clone() Receipt {
	r.Items = slices.Clone(r.Items)
	return r
}

func (r *Receipt) deriveTotal() {
	r.Total = r.Subtotal + r.Tax + r.Tip
}

// AssignedItem is one person's share of a receipt line.
// ItemIndex is the position of the line in Receipt.Items and is the assignment key;
// ItemName is carried along for display.
type AssignedItem struct {
	ItemIndex    int     `json:"item_index"`
	ItemName     string  `json:"item_name"`
	PricePortion float64 `json:"price_portion"`
}

// PersonSplit is what one person owes
type PersonSplit struct {
	PersonName    string         `json:"person_name"`
	AssignedItems []AssignedItem `json:"assigned_items"`
	Subtotal      float64        `json:"subtotal"`
	Tax           float64        `json:"tax"`
	Tip           float64        `json:"tip"`
	Total         float64        `json:"total"`
}

// BillSplit is the per-person allocation of a receipt
type BillSplit []PersonSplit

// Clone returns a deep copy of the split
func (s BillSplit) Clone() BillSplit {
	if s == nil {
		return nil
	}
	out := make(BillSplit, len(s))
	for i, p := range s {
		p.AssignedItems = slices.Clone(p.AssignedItems)
		out[i] = p
	}
	return out
}

// Person returns the entry for name, matched case-sensitively
func (s BillSplit) Person(name string) (PersonSplit, bool) {
	i := s.indexOf(name)
	if i < 0 {
		return PersonSplit{}, false
	}
	return s[i], true
}

func (s BillSplit) indexOf(name string) int {
	return slices.IndexFunc(s, func(p PersonSplit) bool {
		return p.PersonName == name
	})
}

// withoutEmpty drops people that hold nothing
func (s BillSplit) withoutEmpty() BillSplit {
	return slices.DeleteFunc(s, func(p PersonSplit) bool {
		return len(p.AssignedItems) == 0
	})
}
