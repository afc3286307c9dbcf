package scanning

import (
	"context"
	"errors"

	"github.com/zombor/bill-splitter/internal/bill"
)

var (
	// ErrExtractionFormat is returned when a receipt scan reply does not match the receipt schema
	ErrExtractionFormat = errors.New("receipt extraction returned an unexpected format")

	// ErrInterpretationFormat is returned when a split command reply does not match the split schema
	ErrInterpretationFormat = errors.New("split interpretation returned an unexpected format")
)

// ItemData is one line extracted from a receipt
type ItemData struct {
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	Items    []ItemData `json:"items"`
	Subtotal float64    `json:"subtotal"`
	Tax      float64    `json:"tax"`
	Tip      float64    `json:"tip"`
	Total    float64    `json:"total"`
}

// SplitRequest is what the interpreter needs to turn an instruction into a split
type SplitRequest struct {
	Receipt     bill.Receipt
	Split       bill.BillSplit
	Instruction string
}

// SplitProposal is the interpreter's complete replacement split.
// Money fields on the people are advisory and get recomputed by the caller.
type SplitProposal struct {
	Split   bill.BillSplit
	Message string
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its line items and totals
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// Interpreter turns a free-form instruction into a proposed split
type Interpreter interface {
	InterpretSplit(ctx context.Context, req SplitRequest) (*SplitProposal, error)
}
