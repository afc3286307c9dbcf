package bill

import (
	"fmt"
	"slices"
	"strings"
)

// EditState is the state of a receipt edit transaction
type EditState string

const (
	StateViewing EditState = "viewing"
	StateEditing EditState = "editing"
)

// ItemUpdate holds the fields to change on a draft line; nil fields are left alone
type ItemUpdate struct {
	Name     *string  `json:"name,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
}

// TotalsUpdate holds the aggregates to change on a draft; nil fields are left alone.
// Total is not editable, it is always subtotal + tax + tip.
type TotalsUpdate struct {
	Subtotal *float64 `json:"subtotal,omitempty"`
	Tax      *float64 `json:"tax,omitempty"`
	Tip      *float64 `json:"tip,omitempty"`
}

// Transaction is a cancelable edit session over a copy of a receipt.
// The zero value is in the viewing state.
type Transaction struct {
	draft *Receipt
}

// State returns the current state
func (t *Transaction) State() EditState {
	if t.draft == nil {
		return StateViewing
	}
	return StateEditing
}

// Begin opens an edit session over a deep copy of current
func (t *Transaction) Begin(current Receipt) error {
	if t.draft != nil {
		return ErrAlreadyEditing
	}
	draft := current.Clone()
	t.draft = &draft
	return nil
}

// Draft returns a copy of the draft while editing
func (t *Transaction) Draft() (Receipt, bool) {
	if t.draft == nil {
		return Receipt{}, false
	}
	return t.draft.Clone(), true
}

// UpdateItem changes fields of the draft line at index
func (t *Transaction) UpdateItem(index int, u ItemUpdate) error {
	return t.mutate(func(r *Receipt) error {
		if index < 0 || index >= len(r.Items) {
			return fmt.Errorf("%w: index %d", ErrItemNotFound, index)
		}
		item := r.Items[index]
		if u.Name != nil {
			item.Name = strings.TrimSpace(*u.Name)
		}
		if u.Quantity != nil {
			item.Quantity = *u.Quantity
		}
		if u.Price != nil {
			item.Price = *u.Price
		}
		if u.Notes != nil {
			item.Notes = *u.Notes
		}
		if err := validateItem(item); err != nil {
			return err
		}
		r.Items[index] = item
		return nil
	})
}

// AddItem appends a line to the draft. Manually entered lines are fully trusted.
func (t *Transaction) AddItem(item LineItem) error {
	return t.mutate(func(r *Receipt) error {
		item.Name = strings.TrimSpace(item.Name)
		item.Confidence = 1
		if err := validateItem(item); err != nil {
			return err
		}
		r.Items = append(r.Items, item)
		return nil
	})
}

// RemoveItem deletes the draft line at index
func (t *Transaction) RemoveItem(index int) error {
	return t.mutate(func(r *Receipt) error {
		if index < 0 || index >= len(r.Items) {
			return fmt.Errorf("%w: index %d", ErrItemNotFound, index)
		}
		r.Items = slices.Delete(r.Items, index, index+1)
		return nil
	})
}

// UpdateTotals changes the draft's subtotal, tax or tip
func (t *Transaction) UpdateTotals(u TotalsUpdate) error {
	return t.mutate(func(r *Receipt) error {
		if u.Subtotal != nil {
			r.Subtotal = *u.Subtotal
		}
		if u.Tax != nil {
			r.Tax = *u.Tax
		}
		if u.Tip != nil {
			r.Tip = *u.Tip
		}
		return nil
	})
}

// Commit ends the session and returns the draft to be promoted
func (t *Transaction) Commit() (Receipt, error) {
	if t.draft == nil {
		return Receipt{}, ErrNotEditing
	}
	committed := *t.draft
	t.draft = nil
	return committed, nil
}

// Cancel ends the session and discards the draft
func (t *Transaction) Cancel() error {
	if t.draft == nil {
		return ErrNotEditing
	}
	t.draft = nil
	return nil
}

// mutate applies fn to a scratch copy so a failed edit leaves the draft untouched
func (t *Transaction) mutate(fn func(r *Receipt) error) error {
	if t.draft == nil {
		return ErrNotEditing
	}
	scratch := t.draft.Clone()
	if err := fn(&scratch); err != nil {
		return err
	}
	scratch.deriveTotal()
	t.draft = &scratch
	return nil
}

func validateItem(item LineItem) error {
	if item.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", ErrInvalidItem)
	}
	return nil
}
