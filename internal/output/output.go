// Package output handles result serialization for the CLI.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format represents output format types.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatYAML:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s (use json or yaml)", s)
	}
}

// Write serializes data in the given format. JSON is pretty-printed; YAML
// keeps the JSON field names by round-tripping through the JSON tags.
func Write(w io.Writer, format Format, data any) error {
	bw := bufio.NewWriter(w)

	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		if _, err := bw.Write(out); err != nil {
			return err
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}

	case FormatYAML:
		// yaml.v3 does not read json struct tags, so route through JSON
		// to keep the wire field names.
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(bw)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}

	return bw.Flush()
}
