package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a photo of a restaurant bill. Carefully read every line and extract:

1. **Items**: every purchased line item with its name, quantity and the line's total price (quantity already applied). Apply any discount printed directly under an item to that item's price. Give each item a confidence between 0 and 1 for how sure you are that the name and price were read correctly, and put anything unusual (e.g. "price partly obscured") in notes.

2. **Subtotal**: the amount before tax and tip.

3. **Tax**: the total of all taxes. Use 0 if none is printed.

4. **Tip**: any tip, gratuity or service charge. Use 0 if none is printed.

5. **Total**: the final amount due.

Return ONLY valid JSON in this exact format:
{
  "items": [
    {"name": "Item name", "quantity": 1, "price": 0.00, "confidence": 0.95, "notes": ""}
  ],
  "subtotal": 0.00,
  "tax": 0.00,
  "tip": 0.00,
  "total": 0.00
}

Important:
- All amounts must be numbers (not strings), in the bill's currency units
- quantity must be greater than zero
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

const splitCommandPrompt = `You help a group of people split a restaurant bill. You are given the receipt, the current split and an instruction from the user. Apply the instruction to the current split and return the complete new split.

Rules:
- Refer to items by their "index" from the receipt. Two lines may share a name; they are different items.
- An item shared by several people is split equally unless the instruction says otherwise. The price_portion values for one item must add up to that item's price.
- Keep every assignment the instruction does not change.
- Leave out people who hold no items.
- Person names are case sensitive. Reuse existing names exactly.

Receipt:
%s

Current split:
%s

Instruction:
%s

Return ONLY valid JSON in this exact format:
{
  "split": [
    {
      "person_name": "Name",
      "assigned_items": [
        {"item_index": 0, "item_name": "Item name", "price_portion": 0.00}
      ]
    }
  ],
  "message": "One short sentence telling the user what changed."
}

Do not include any text before or after the JSON. Do not use markdown code blocks.`

type promptItem struct {
	Index    int     `json:"index"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

type promptPerson struct {
	PersonName    string           `json:"person_name"`
	AssignedItems []promptAssigned `json:"assigned_items"`
}

type promptAssigned struct {
	ItemIndex    int     `json:"item_index"`
	ItemName     string  `json:"item_name"`
	PricePortion float64 `json:"price_portion"`
}

// splitPrompt renders the interpretation prompt. Only structure is sent for the
// current split; money is recomputed locally anyway.
func splitPrompt(req SplitRequest) (string, error) {
	items := make([]promptItem, 0, len(req.Receipt.Items))
	for i, item := range req.Receipt.Items {
		items = append(items, promptItem{Index: i, Name: item.Name, Quantity: item.Quantity, Price: item.Price})
	}
	receipt, err := json.MarshalIndent(map[string]any{
		"items":    items,
		"subtotal": req.Receipt.Subtotal,
		"tax":      req.Receipt.Tax,
		"tip":      req.Receipt.Tip,
		"total":    req.Receipt.Total,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling receipt: %w", err)
	}

	people := make([]promptPerson, 0, len(req.Split))
	for _, p := range req.Split {
		assigned := make([]promptAssigned, 0, len(p.AssignedItems))
		for _, a := range p.AssignedItems {
			assigned = append(assigned, promptAssigned(a))
		}
		people = append(people, promptPerson{PersonName: p.PersonName, AssignedItems: assigned})
	}
	split, err := json.MarshalIndent(people, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling split: %w", err)
	}

	return fmt.Sprintf(splitCommandPrompt, receipt, split, strings.TrimSpace(req.Instruction)), nil
}
