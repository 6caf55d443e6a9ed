package pipeline

import (
	"fmt"

	"github.com/billscan/billscan/internal/repair"
)

const systemPrompt = `You are an expert invoice data extraction system. You analyze document pages and extract every billable line item with exact fidelity.`

const extractionRules = `Extract ALL line items from the provided document pages.

RULES:
1. Extract EVERY row from the item tables, even when names repeat. Each
   row is a separate billable item; never merge or summarize rows.
2. Group items by the page they appear on. Page numbers are strings
   (e.g. "3"). Classify each page as "Bill Detail", "Final Bill", or
   "Pharmacy".
3. For each item extract: item_name (exactly as shown), item_quantity,
   item_rate, item_amount (all as plain decimal numbers, no currency
   symbols or thousands separators).
4. item_amount should equal item_quantity multiplied by item_rate. If only
   the amount is visible and quantity is 1, use the amount as the rate.
5. Do NOT extract subtotal, tax, discount, or grand-total rows.
6. Return ONLY a JSON object in this exact structure, with no markdown
   fences and no commentary:

{
  "pagewise_line_items": [
    {
      "page_no": "1",
      "page_type": "Bill Detail",
      "bill_items": [
        {
          "item_name": "Example Item",
          "item_quantity": 2.0,
          "item_rate": 100.0,
          "item_amount": 200.0
        }
      ]
    }
  ]
}`

// BuildExtractionPrompt creates the prompt for one chunk. The chunk's
// absolute page range is spelled out so page numbers stay document-wide
// even though the model only sees a slice of the document.
func BuildExtractionPrompt(chunk ChunkSpec) string {
	if chunk.FirstPage == chunk.LastPage {
		return fmt.Sprintf("%s\n\nThis request contains page %d of the document; use \"%d\" as the page number.",
			extractionRules, chunk.FirstPage, chunk.FirstPage)
	}
	return fmt.Sprintf("%s\n\nThis request contains pages %d through %d of the document, in order; number them accordingly.",
		extractionRules, chunk.FirstPage, chunk.LastPage)
}

// ExpectedShape is the minimal structure a repaired response must have.
func ExpectedShape() repair.Shape {
	return repair.Shape{
		RequiredKeys: []string{"pagewise_line_items"},
		ArrayKeys:    []string{"pagewise_line_items"},
	}
}
