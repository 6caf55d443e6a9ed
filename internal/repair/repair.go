// Package repair converts near-JSON model output into validated structures.
//
// Model responses are supposed to be a single JSON object but routinely
// arrive truncated, fenced in markdown, littered with raw control
// characters, or written in a JSON dialect. The engine runs a fixed
// priority-ordered list of strategies, cheapest and most faithful first,
// and accepts the first result that parses and matches the expected shape.
package repair

import (
	"fmt"
	"strings"

	"github.com/billscan/billscan/internal/logger"
)

// Strategy is one repair heuristic. Attempt returns the parsed object or
// an error describing why this strategy could not produce one.
type Strategy interface {
	Name() string
	Attempt(raw string) (map[string]any, error)
}

// Result is a successfully repaired structure.
type Result struct {
	Data     map[string]any
	Strategy string // name of the strategy that succeeded
	Partial  bool   // true when only fragments were salvaged
}

// StepFailure records why one strategy failed, for diagnostics.
type StepFailure struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// Unrecoverable means every strategy failed. It carries the full
// strategy-by-strategy trail.
type Unrecoverable struct {
	Trail []StepFailure
}

func (e *Unrecoverable) Error() string {
	var sb strings.Builder
	sb.WriteString("all repair strategies failed:")
	for _, step := range e.Trail {
		sb.WriteString(" [")
		sb.WriteString(step.Strategy)
		sb.WriteString(": ")
		sb.WriteString(step.Reason)
		sb.WriteString("]")
	}
	return sb.String()
}

// TrailStrings renders the failure trail as one line per strategy.
func (e *Unrecoverable) TrailStrings() []string {
	out := make([]string, 0, len(e.Trail))
	for _, step := range e.Trail {
		out = append(out, step.Strategy+": "+step.Reason)
	}
	return out
}

// Engine applies repair strategies in fixed priority order.
type Engine struct {
	strategies []Strategy
}

// NewEngine creates an engine with the standard strategy chain.
func NewEngine() *Engine {
	return &Engine{
		strategies: []Strategy{
			directParse{},
			fenceStrip{},
			objectExtract{},
			closeTruncated{},
			escapeControlChars{},
			permissiveParse{},
			salvageItems{},
		},
	}
}

// Strategies returns the strategy names in application order.
func (e *Engine) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Repair tries each strategy in order and returns the first result that
// parses and conforms to the expected shape. A syntactically valid result
// with the wrong shape does not count as success. If everything fails the
// returned error is *Unrecoverable.
func (e *Engine) Repair(raw string, shape Shape) (Result, error) {
	if strings.TrimSpace(raw) == "" {
		return Result{}, &Unrecoverable{Trail: []StepFailure{
			{Strategy: "input", Reason: "empty text"},
		}}
	}

	var trail []StepFailure
	for _, strategy := range e.strategies {
		data, err := strategy.Attempt(raw)
		if err != nil {
			trail = append(trail, StepFailure{Strategy: strategy.Name(), Reason: err.Error()})
			continue
		}
		if err := shape.Check(data); err != nil {
			trail = append(trail, StepFailure{Strategy: strategy.Name(), Reason: "shape: " + err.Error()})
			continue
		}

		_, partial := strategy.(salvageItems)
		if partial || len(trail) > 0 {
			logger.Debug("repair succeeded",
				"strategy", strategy.Name(),
				"partial", partial,
				"failed_strategies", len(trail))
		}
		return Result{
			Data:     data,
			Strategy: strategy.Name(),
			Partial:  partial,
		}, nil
	}

	logger.Warn("repair exhausted all strategies",
		"strategies", len(e.strategies),
		"text_prefix", prefix(raw, 200))
	return Result{}, &Unrecoverable{Trail: trail}
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// parseError labels a parse failure with a short input sample so the trail
// stays readable.
func parseError(err error) error {
	return fmt.Errorf("parse: %v", err)
}
