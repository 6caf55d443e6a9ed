package bill

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/billscan/billscan/internal/logger"
)

// Flag values attached to items and pages during cleaning.
const (
	FlagQuantityDefaulted = "quantity_defaulted"
	FlagRateDefaulted     = "rate_defaulted"
	FlagAmountDefaulted   = "amount_defaulted"
	FlagAmountComputed    = "amount_computed"
	FlagAmountMismatch    = "amount_mismatch"
	FlagNegativeValue     = "negative_value"
	FlagRangeViolation    = "range_violation"
	FlagUnknownPageType   = "unrecognized_page_type"
)

// DefaultPageTypes is the known page classification set.
var DefaultPageTypes = []string{"Bill Detail", "Final Bill", "Pharmacy"}

// Rows matching these anywhere in the name are never billable items.
var strongFilterKeywords = []string{
	"DISCOUNT", "SUBTOTAL", "SUB TOTAL", "SUB-TOTAL",
	"GRAND TOTAL", "NET TOTAL", "AMOUNT TOTAL",
	"ROUND OFF", "ROUNDING",
}

// These filter only when they are the whole name or its first/last word,
// so "TAXI SERVICE" survives while "TOTAL GST" does not.
var exactFilterKeywords = []string{"GST", "CGST", "SGST", "IGST", "TAX", "TOTAL"}

// CleanConfig holds the cleaning tunables.
type CleanConfig struct {
	// AmountTolerance is the relative tolerance for amount ≈ quantity×rate.
	AmountTolerance float64

	// PageTypes is the known page-type set; unknown values are kept and
	// flagged.
	PageTypes []string

	// FilterNonBillable drops discount/subtotal/tax rows by keyword.
	FilterNonBillable bool

	// FilterNegativeRows drops rows whose raw amount was negative.
	FilterNegativeRows bool
}

// DefaultCleanConfig returns the standard tunables.
func DefaultCleanConfig() CleanConfig {
	return CleanConfig{
		AmountTolerance:    0.01,
		PageTypes:          DefaultPageTypes,
		FilterNonBillable:  true,
		FilterNegativeRows: true,
	}
}

// Report counts what cleaning did, for observability. Callers may ignore
// it but it is always produced.
type Report struct {
	ItemsKept         int `json:"items_kept"`
	Coerced           int `json:"coerced"`
	Flagged           int `json:"flagged"`
	AmountMismatches  int `json:"amount_mismatches"`
	UnknownPageTypes  int `json:"unknown_page_types"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	RowsFiltered      int `json:"rows_filtered"`
}

// Merge accumulates another report into this one.
func (r *Report) Merge(other Report) {
	r.ItemsKept += other.ItemsKept
	r.Coerced += other.Coerced
	r.Flagged += other.Flagged
	r.AmountMismatches += other.AmountMismatches
	r.UnknownPageTypes += other.UnknownPageTypes
	r.DuplicatesRemoved += other.DuplicatesRemoved
	r.RowsFiltered += other.RowsFiltered
}

// Cleaner normalizes and sanity-checks repaired structures. Clean never
// fails; it degrades, flags, and reports instead.
type Cleaner struct {
	cfg        CleanConfig
	validate   *validator.Validate
	knownTypes map[string]string // lowercase -> canonical
}

// NewCleaner creates a cleaner with the given tunables.
func NewCleaner(cfg CleanConfig) *Cleaner {
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = 0.01
	}
	if len(cfg.PageTypes) == 0 {
		cfg.PageTypes = DefaultPageTypes
	}
	known := make(map[string]string, len(cfg.PageTypes))
	for _, t := range cfg.PageTypes {
		known[strings.ToLower(t)] = t
	}
	return &Cleaner{
		cfg:        cfg,
		validate:   validator.New(),
		knownTypes: known,
	}
}

// Clean converts a repaired structure into typed pages plus a report.
func (c *Cleaner) Clean(data map[string]any) ([]PageResult, Report) {
	var report Report
	var pages []PageResult

	rawPages, _ := data["pagewise_line_items"].([]any)
	for _, rawPage := range rawPages {
		pageMap, ok := rawPage.(map[string]any)
		if !ok {
			continue
		}
		page := c.cleanPage(pageMap, &report)
		if len(page.Items) > 0 {
			pages = append(pages, page)
		}
	}

	return pages, report
}

func (c *Cleaner) cleanPage(pageMap map[string]any, report *Report) PageResult {
	page := PageResult{
		PageNo: PageNumber(coercePageNo(pageMap["page_no"])),
		Flags:  stringSlice(pageMap["flags"]),
	}

	rawType, _ := pageMap["page_type"].(string)
	rawType = strings.TrimSpace(rawType)
	switch canonical, ok := c.knownTypes[strings.ToLower(rawType)]; {
	case ok:
		page.PageType = canonical
	case rawType == "":
		// Missing is not the same as unknown; default quietly.
		page.PageType = c.cfg.PageTypes[0]
	default:
		// Unknown classifications are kept, not coerced away.
		page.PageType = rawType
		page.Flags = addFlag(page.Flags, FlagUnknownPageType)
		report.UnknownPageTypes++
	}

	seen := map[string]bool{}
	rawItems, _ := pageMap["bill_items"].([]any)
	for _, rawItem := range rawItems {
		itemMap, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		item, keep := c.cleanItem(itemMap, report)
		if !keep {
			continue
		}

		sig := itemSignature(item)
		if seen[sig] {
			report.DuplicatesRemoved++
			logger.Debug("dropping duplicate item",
				"page", int(page.PageNo), "item", item.Name)
			continue
		}
		seen[sig] = true

		page.Items = append(page.Items, item)
		report.ItemsKept++
	}

	return page
}

func (c *Cleaner) cleanItem(itemMap map[string]any, report *Report) (LineItem, bool) {
	item := LineItem{
		Name:  cleanString(stringValue(itemMap["item_name"])),
		Flags: stringSlice(itemMap["flags"]),
	}
	if item.Name == "" {
		report.RowsFiltered++
		return LineItem{}, false
	}
	if c.cfg.FilterNonBillable && isNonBillableRow(item.Name) {
		report.RowsFiltered++
		return LineItem{}, false
	}

	item.Quantity = c.coerceField(itemMap["item_quantity"], 1, FlagQuantityDefaulted, &item, report)
	item.Rate = c.coerceField(itemMap["item_rate"], 0, FlagRateDefaulted, &item, report)

	rawAmount, amountOK, amountCoerced := coerceNumber(itemMap["item_amount"])
	if c.cfg.FilterNegativeRows && amountOK && rawAmount < 0 {
		// Negative amounts are discounts in another costume.
		report.RowsFiltered++
		return LineItem{}, false
	}
	if amountCoerced {
		report.Coerced++
	}
	switch {
	case !amountOK:
		item.Amount = 0
		item.Flags = addFlag(item.Flags, FlagAmountDefaulted)
		report.Flagged++
	case rawAmount < 0:
		item.Amount = -rawAmount
		item.Flags = addFlag(item.Flags, FlagNegativeValue)
		report.Flagged++
	default:
		item.Amount = rawAmount
	}

	c.checkAmount(&item, report)

	if err := c.validate.Struct(item); err != nil {
		item.Flags = addFlag(item.Flags, FlagRangeViolation)
		report.Flagged++
	}

	return item, true
}

func (c *Cleaner) coerceField(raw any, fallback float64, flag string, item *LineItem, report *Report) float64 {
	value, ok, coerced := coerceNumber(raw)
	if coerced {
		report.Coerced++
	}
	if !ok {
		item.Flags = addFlag(item.Flags, flag)
		report.Flagged++
		return fallback
	}
	if value < 0 {
		item.Flags = addFlag(item.Flags, FlagNegativeValue)
		report.Flagged++
		return -value
	}
	return value
}

// checkAmount cross-checks amount ≈ quantity × rate. A zero amount with a
// computable expectation is filled in; anything else out of tolerance is
// flagged but kept.
func (c *Cleaner) checkAmount(item *LineItem, report *Report) {
	expected := item.Quantity * item.Rate
	if expected <= 0 {
		return
	}
	if item.Amount == 0 {
		item.Amount = expected
		item.Flags = addFlag(item.Flags, FlagAmountComputed)
		report.Coerced++
		return
	}
	diff := item.Amount - expected
	if diff < 0 {
		diff = -diff
	}
	if diff/expected > c.cfg.AmountTolerance && diff > 0.01 {
		item.Flags = addFlag(item.Flags, FlagAmountMismatch)
		report.AmountMismatches++
		logger.Debug("amount mismatch",
			"item", item.Name,
			"expected", expected,
			"actual", item.Amount)
	}
}

// isNonBillableRow reports whether the name denotes a discount, tax, or
// total row rather than a billable item.
func isNonBillableRow(name string) bool {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, kw := range strongFilterKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	for _, kw := range exactFilterKeywords {
		if upper == kw ||
			strings.HasPrefix(upper, kw+" ") || strings.HasPrefix(upper, kw+":") ||
			strings.HasSuffix(upper, " "+kw) || strings.HasSuffix(upper, ":"+kw) {
			return true
		}
	}
	return false
}

// cleanString strips non-printable characters and collapses whitespace.
func cleanString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// coerceNumber converts a raw JSON value to float64. The second return is
// false when the value cannot be interpreted; the third is true when a
// string had to be coerced.
func coerceNumber(raw any) (value float64, ok bool, coerced bool) {
	switch v := raw.(type) {
	case float64:
		return v, true, false
	case int:
		return float64(v), true, false
	case string:
		cleaned := strings.TrimSpace(v)
		cleaned = strings.Map(func(r rune) rune {
			switch r {
			case ',', '₹', '$', '€', '£', ' ':
				return -1
			}
			return r
		}, cleaned)
		if cleaned == "" {
			return 0, false, false
		}
		n, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false, false
		}
		return n, true, true
	default:
		return 0, false, false
	}
}

func coercePageNo(raw any) int {
	switch v := raw.(type) {
	case float64:
		if v >= 1 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 1 {
			return n
		}
	}
	return 1
}

func stringValue(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = addFlag(out, s)
		}
	}
	return out
}

// addFlag inserts a flag keeping the slice sorted and duplicate-free, so
// repeated cleaning passes converge.
func addFlag(flags []string, flag string) []string {
	i := sort.SearchStrings(flags, flag)
	if i < len(flags) && flags[i] == flag {
		return flags
	}
	flags = append(flags, "")
	copy(flags[i+1:], flags[i:])
	flags[i] = flag
	return flags
}

// itemSignature builds the duplicate-identity key: normalized name plus
// the three numeric fields. Two items are duplicates only when all four
// match.
func itemSignature(item LineItem) string {
	name := strings.ToLower(strings.Join(strings.Fields(item.Name), " "))
	return fmt.Sprintf("%s|%g|%g|%g", name, item.Quantity, item.Rate, item.Amount)
}
