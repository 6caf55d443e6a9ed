package repair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// salvageItems is strategy 7: when the surrounding structure is beyond
// recovery, pull out every recognizable item-shaped fragment and build a
// best-effort partial document from them. Any non-empty salvage beats
// total failure, so results from this strategy are always tagged partial.
type salvageItems struct{}

func (salvageItems) Name() string { return "salvage" }

var (
	itemFragRe     = regexp.MustCompile(`\{[^{}]*"item_name"[^{}]*(?:\}|$)`)
	itemNameRe     = regexp.MustCompile(`"item_name"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	itemQuantityRe = regexp.MustCompile(`"item_quantity"\s*:\s*"?(-?[0-9][0-9,]*(?:\.[0-9]+)?)"?`)
	itemRateRe     = regexp.MustCompile(`"item_rate"\s*:\s*"?(-?[0-9][0-9,]*(?:\.[0-9]+)?)"?`)
	itemAmountRe   = regexp.MustCompile(`"item_amount"\s*:\s*"?(-?[0-9][0-9,]*(?:\.[0-9]+)?)"?`)
	pageNoRe       = regexp.MustCompile(`"page_no"\s*:\s*"?([0-9]+)"?`)
	pageTypeRe     = regexp.MustCompile(`"page_type"\s*:\s*"([^"]*)"`)
)

func (salvageItems) Attempt(raw string) (map[string]any, error) {
	fragments := itemFragRe.FindAllStringIndex(raw, -1)
	if len(fragments) == 0 {
		return nil, fmt.Errorf("no item-shaped fragments found")
	}

	pageMarks := pageNoRe.FindAllStringSubmatchIndex(raw, -1)
	typeMarks := pageTypeRe.FindAllStringSubmatchIndex(raw, -1)

	type pageAccum struct {
		pageType string
		items    []any
	}
	pages := map[int]*pageAccum{}

	for _, span := range fragments {
		fragment := raw[span[0]:span[1]]

		name, ok := salvageName(fragment)
		if !ok {
			continue
		}
		item := map[string]any{
			"item_name":     name,
			"item_quantity": salvageNumber(itemQuantityRe, fragment, 1),
			"item_rate":     salvageNumber(itemRateRe, fragment, 0),
			"item_amount":   salvageNumber(itemAmountRe, fragment, 0),
		}

		pageNo := lastMarkBefore(raw, pageMarks, span[0], 1)
		acc := pages[pageNo]
		if acc == nil {
			acc = &pageAccum{pageType: lastTypeBefore(raw, typeMarks, span[0])}
			pages[pageNo] = acc
		}
		acc.items = append(acc.items, item)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("fragments found but none had a usable item_name")
	}

	pageNos := make([]int, 0, len(pages))
	for no := range pages {
		pageNos = append(pageNos, no)
	}
	sort.Ints(pageNos)

	pagewise := make([]any, 0, len(pageNos))
	for _, no := range pageNos {
		acc := pages[no]
		pagewise = append(pagewise, map[string]any{
			"page_no":    strconv.Itoa(no),
			"page_type":  acc.pageType,
			"bill_items": acc.items,
		})
	}

	return map[string]any{"pagewise_line_items": pagewise}, nil
}

func salvageName(fragment string) (string, bool) {
	m := itemNameRe.FindStringSubmatch(fragment)
	if m == nil {
		return "", false
	}
	// The captured group is raw JSON string content; decode the escapes.
	var name string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &name); err != nil {
		name = m[1]
	}
	name = strings.TrimSpace(name)
	return name, name != ""
}

func salvageNumber(re *regexp.Regexp, fragment string, fallback float64) float64 {
	m := re.FindStringSubmatch(fragment)
	if m == nil {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return fallback
	}
	return n
}

// lastMarkBefore returns the page number from the last page_no marker
// preceding pos, or fallback when none exists.
func lastMarkBefore(text string, marks [][]int, pos, fallback int) int {
	result := fallback
	for _, m := range marks {
		if m[0] >= pos {
			break
		}
		if n, err := strconv.Atoi(text[m[2]:m[3]]); err == nil {
			result = n
		}
	}
	return result
}

func lastTypeBefore(text string, marks [][]int, pos int) string {
	result := "Bill Detail"
	for _, m := range marks {
		if m[0] >= pos {
			break
		}
		result = text[m[2]:m[3]]
	}
	return result
}
