package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/zombor/bill-splitter/internal/bill"
)

// extractJSONObject strips markdown fences and any chatter around the outermost JSON object
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

type rawItem struct {
	Name       string   `json:"name"`
	Quantity   *float64 `json:"quantity"`
	Price      *float64 `json:"price"`
	Confidence *float64 `json:"confidence"`
	Notes      *string  `json:"notes"`
}

type rawReceipt struct {
	Items    *[]rawItem `json:"items"`
	Subtotal *float64   `json:"subtotal"`
	Tax      *float64   `json:"tax"`
	Tip      *float64   `json:"tip"`
	Total    *float64   `json:"total"`
}

// parseReceiptJSON parses and validates a receipt scan reply. Every failure wraps
// ErrExtractionFormat.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFormat, err)
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %w", ErrExtractionFormat, err)
	}

	if raw.Items == nil {
		return nil, fmt.Errorf("%w: items is required", ErrExtractionFormat)
	}
	totals := map[string]*float64{"subtotal": raw.Subtotal, "tax": raw.Tax, "tip": raw.Tip, "total": raw.Total}
	for _, field := range []string{"subtotal", "tax", "tip", "total"} {
		if totals[field] == nil {
			return nil, fmt.Errorf("%w: %s is required", ErrExtractionFormat, field)
		}
	}

	data := &ReceiptData{
		Items:    make([]ItemData, 0, len(*raw.Items)),
		Subtotal: *raw.Subtotal,
		Tax:      *raw.Tax,
		Tip:      *raw.Tip,
		Total:    *raw.Total,
	}
	for i, item := range *raw.Items {
		name := strings.TrimSpace(item.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("%w: item %d has no name", ErrExtractionFormat, i)
		case item.Quantity == nil || *item.Quantity <= 0:
			return nil, fmt.Errorf("%w: item %q needs a quantity greater than zero", ErrExtractionFormat, name)
		case item.Price == nil:
			return nil, fmt.Errorf("%w: item %q has no price", ErrExtractionFormat, name)
		case item.Confidence == nil || *item.Confidence < 0 || *item.Confidence > 1:
			return nil, fmt.Errorf("%w: item %q needs a confidence between 0 and 1", ErrExtractionFormat, name)
		}
		parsed := ItemData{
			Name:       name,
			Quantity:   *item.Quantity,
			Price:      *item.Price,
			Confidence: *item.Confidence,
		}
		if item.Notes != nil {
			parsed.Notes = strings.TrimSpace(*item.Notes)
		}
		data.Items = append(data.Items, parsed)
	}

	return data, nil
}

type rawAssigned struct {
	ItemIndex    *int     `json:"item_index"`
	ItemName     string   `json:"item_name"`
	PricePortion *float64 `json:"price_portion"`
}

type rawPerson struct {
	PersonName    string         `json:"person_name"`
	AssignedItems *[]rawAssigned `json:"assigned_items"`
	Subtotal      float64        `json:"subtotal"`
	Tax           float64        `json:"tax"`
	Tip           float64        `json:"tip"`
	Total         float64        `json:"total"`
}

type rawProposal struct {
	Split   *[]rawPerson `json:"split"`
	Message string       `json:"message"`
}

// parseSplitJSON parses and validates a split command reply. Every failure wraps
// ErrInterpretationFormat. A missing item_index becomes -1 so the item is resolved by name.
func parseSplitJSON(text string) (*SplitProposal, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterpretationFormat, err)
	}

	var raw rawProposal
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %w", ErrInterpretationFormat, err)
	}
	if raw.Split == nil {
		return nil, fmt.Errorf("%w: split is required", ErrInterpretationFormat)
	}

	split := make(bill.BillSplit, 0, len(*raw.Split))
	for i, p := range *raw.Split {
		name := strings.TrimSpace(p.PersonName)
		if name == "" {
			return nil, fmt.Errorf("%w: person %d has no name", ErrInterpretationFormat, i)
		}
		if p.AssignedItems == nil {
			return nil, fmt.Errorf("%w: %s has no assigned_items", ErrInterpretationFormat, name)
		}

		assigned := make([]bill.AssignedItem, 0, len(*p.AssignedItems))
		for _, a := range *p.AssignedItems {
			if a.ItemIndex == nil && strings.TrimSpace(a.ItemName) == "" {
				return nil, fmt.Errorf("%w: item for %s has neither index nor name", ErrInterpretationFormat, name)
			}
			if a.PricePortion == nil || math.IsNaN(*a.PricePortion) {
				return nil, fmt.Errorf("%w: item for %s has no price_portion", ErrInterpretationFormat, name)
			}
			index := -1
			if a.ItemIndex != nil {
				index = *a.ItemIndex
			}
			assigned = append(assigned, bill.AssignedItem{
				ItemIndex:    index,
				ItemName:     strings.TrimSpace(a.ItemName),
				PricePortion: *a.PricePortion,
			})
		}

		split = append(split, bill.PersonSplit{
			PersonName:    name,
			AssignedItems: assigned,
			Subtotal:      p.Subtotal,
			Tax:           p.Tax,
			Tip:           p.Tip,
			Total:         p.Total,
		})
	}

	return &SplitProposal{Split: split, Message: strings.TrimSpace(raw.Message)}, nil
}
