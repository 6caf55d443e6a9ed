package repair

import "fmt"

// Shape is the minimal structural contract a repaired document must meet.
// It deliberately checks less than full schema validation: just enough to
// reject output that parsed but is structurally wrong, like a bare array
// where an object was required.
type Shape struct {
	// RequiredKeys must all be present at the top level.
	RequiredKeys []string

	// ArrayKeys must be present and hold JSON arrays.
	ArrayKeys []string
}

// Check validates parsed data against the shape.
func (s Shape) Check(data map[string]any) error {
	if data == nil {
		return fmt.Errorf("no object parsed")
	}
	for _, key := range s.RequiredKeys {
		if _, ok := data[key]; !ok {
			return fmt.Errorf("missing required key %q", key)
		}
	}
	for _, key := range s.ArrayKeys {
		v, ok := data[key]
		if !ok {
			return fmt.Errorf("missing array key %q", key)
		}
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("key %q is %T, expected array", key, v)
		}
	}
	return nil
}
