// Package bill defines the extracted document structures and the
// validation/cleaning pass that every parsed chunk goes through.
package bill

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PageNumber is a 1-based page index. The wire format carries page numbers
// as strings; internally they are integers so pages sort numerically.
type PageNumber int

// MarshalJSON renders the page number as a string, matching the API wire
// format.
func (n PageNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.Itoa(int(n)))
}

// UnmarshalJSON accepts both string and numeric page numbers.
func (n *PageNumber) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid page number %q", s)
		}
		*n = PageNumber(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid page number: %s", string(data))
	}
	*n = PageNumber(int(f))
	return nil
}

// LineItem is a single billable row.
type LineItem struct {
	Name     string   `json:"item_name" validate:"required"`
	Quantity float64  `json:"item_quantity" validate:"gte=0"`
	Rate     float64  `json:"item_rate" validate:"gte=0"`
	Amount   float64  `json:"item_amount" validate:"gte=0"`
	Flags    []string `json:"flags,omitempty"`
}

// PageResult groups the line items extracted from one page.
type PageResult struct {
	PageNo   PageNumber `json:"page_no"`
	PageType string     `json:"page_type"`
	Items    []LineItem `json:"bill_items"`
	Flags    []string   `json:"flags,omitempty"`
	Failed   bool       `json:"failed,omitempty"`
}

// TokenUsage is additive across chunks.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens" validate:"gte=0"`
	OutputTokens int `json:"output_tokens" validate:"gte=0"`
	TotalTokens  int `json:"total_tokens" validate:"gte=0"`
}

// Add accumulates usage from another chunk.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// ChunkDiagnostic explains what happened to one chunk, successful or not.
type ChunkDiagnostic struct {
	Chunk       int      `json:"chunk"`
	FirstPage   int      `json:"first_page"`
	LastPage    int      `json:"last_page"`
	Attempts    int      `json:"attempts,omitempty"`
	Partial     bool     `json:"partial,omitempty"`
	Error       string   `json:"error,omitempty"`
	RepairTrail []string `json:"repair_trail,omitempty"`
}

// DocumentResult is the merged outcome for a whole document. Partial
// success is a first-class state: Success is false when any chunk failed,
// but Pages still carries everything that was recovered.
type DocumentResult struct {
	Pages          []PageResult      `json:"pagewise_line_items"`
	TotalItemCount int               `json:"total_item_count"`
	Usage          TokenUsage        `json:"-"`
	Success        bool              `json:"-"`
	Partial        bool              `json:"-"`
	Diagnostics    []ChunkDiagnostic `json:"-"`
	Report         Report            `json:"-"`
}

// ResultEnvelope is the serialized wrapper around a DocumentResult. It
// carries the status fields the result itself keeps off the wire, so the
// HTTP API and the CLI emit the same shape.
type ResultEnvelope struct {
	IsSuccess   bool              `json:"is_success"`
	IsPartial   bool              `json:"is_partial,omitempty"`
	Message     string            `json:"message,omitempty"`
	TokenUsage  TokenUsage        `json:"token_usage"`
	Data        *DocumentResult   `json:"data,omitempty"`
	Diagnostics []ChunkDiagnostic `json:"diagnostics,omitempty"`
	Report      *Report           `json:"cleaning_report,omitempty"`
}

// Envelope wraps the result for serialization. err is the processing
// error, if any; Data is present whenever any pages were recovered.
func (r DocumentResult) Envelope(err error) ResultEnvelope {
	env := ResultEnvelope{
		IsSuccess:   r.Success,
		IsPartial:   r.Partial,
		TokenUsage:  r.Usage,
		Diagnostics: r.Diagnostics,
	}
	if err != nil {
		env.Message = err.Error()
	}
	if len(r.Pages) > 0 {
		env.Data = &r
		env.Report = &r.Report
	}
	return env
}

// CountItems sums line items across all pages.
func CountItems(pages []PageResult) int {
	total := 0
	for _, page := range pages {
		total += len(page.Items)
	}
	return total
}
