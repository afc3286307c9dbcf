package bill

import "errors"

var (
	// ErrItemNotFound is returned when an item index does not exist on the receipt
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidItem is returned when an edit would produce an invalid line item
	ErrInvalidItem = errors.New("invalid item")

	// ErrInvalidProposal is returned when an externally proposed split cannot be merged
	ErrInvalidProposal = errors.New("invalid split proposal")

	// ErrNotEditing is returned for draft operations outside an edit session
	ErrNotEditing = errors.New("no edit in progress")

	// ErrAlreadyEditing is returned when an edit session is already open
	ErrAlreadyEditing = errors.New("edit already in progress")
)
