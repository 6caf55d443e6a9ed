package repair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/titanous/json5"
)

// directParse is strategy 1: strict parse of the text as-is.
type directParse struct{}

func (directParse) Name() string { return "direct" }

func (directParse) Attempt(raw string) (map[string]any, error) {
	return parseObject(raw)
}

// fenceStrip is strategy 2: remove surrounding markdown code fences and
// language tags, then parse.
type fenceStrip struct{}

func (fenceStrip) Name() string { return "fence_strip" }

var (
	fenceRe       = regexp.MustCompile("(?s)^```[a-zA-Z0-9]*\\s*\n?(.*?)\n?\\s*```\\s*$")
	fenceMarkerRe = regexp.MustCompile("```[a-zA-Z0-9]*\\s*")
)

func (fenceStrip) Attempt(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); len(m) > 1 {
		return parseObject(m[1])
	}
	// Fences may be unbalanced when the output was truncated; drop every
	// marker and try whatever is left.
	stripped := strings.TrimSpace(fenceMarkerRe.ReplaceAllString(text, ""))
	if stripped == text {
		return nil, fmt.Errorf("no fence markers found")
	}
	return parseObject(stripped)
}

// objectExtract is strategy 3: slice out the first balanced {...} span,
// ignoring braces inside string literals.
type objectExtract struct{}

func (objectExtract) Name() string { return "object_extract" }

func (objectExtract) Attempt(raw string) (map[string]any, error) {
	span, ok := balancedObject(raw)
	if !ok {
		return nil, fmt.Errorf("no balanced object found")
	}
	if span == strings.TrimSpace(raw) {
		return nil, fmt.Errorf("object spans whole input, nothing to extract")
	}
	return parseObject(span)
}

// balancedObject returns the first {...} span with matched nesting depth,
// tracking string-literal state so braces inside strings are ignored.
func balancedObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range text {
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if start == -1 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && start != -1 {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// closeTruncated is strategy 4: if the text ends while still inside a
// string literal, close the string, then close all open brackets and
// braces in reverse nesting order.
type closeTruncated struct{}

func (closeTruncated) Name() string { return "close_truncated" }

func (closeTruncated) Attempt(raw string) (map[string]any, error) {
	text := strings.TrimSpace(fenceMarkerRe.ReplaceAllString(raw, ""))

	firstBrace := strings.IndexByte(text, '{')
	if firstBrace < 0 {
		return nil, fmt.Errorf("no opening brace")
	}
	text = text[firstBrace:]

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == ch {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return nil, fmt.Errorf("structure already closed")
	}

	var sb strings.Builder
	sb.WriteString(text)
	if inString {
		// A trailing lone backslash would escape our closing quote.
		if escaped {
			sb.WriteByte('\\')
		}
		sb.WriteByte('"')
	}

	// A dangling comma or colon before the closers produces invalid JSON.
	candidate := strings.TrimRight(sb.String(), " \t\r\n")
	if strings.HasSuffix(candidate, ",") {
		candidate = candidate[:len(candidate)-1]
	} else if strings.HasSuffix(candidate, ":") {
		candidate += " null"
	}

	var closers strings.Builder
	closers.WriteString(candidate)
	for i := len(stack) - 1; i >= 0; i-- {
		closers.WriteByte(stack[i])
	}

	return parseObject(closers.String())
}

// escapeControlChars is strategy 5: escape raw control characters that
// appear inside string literals without touching structural whitespace.
type escapeControlChars struct{}

func (escapeControlChars) Name() string { return "escape_control" }

func (escapeControlChars) Attempt(raw string) (map[string]any, error) {
	text := strings.TrimSpace(fenceMarkerRe.ReplaceAllString(raw, ""))

	var sb strings.Builder
	sb.Grow(len(text))
	inString := false
	escaped := false
	changed := false

	for _, ch := range text {
		if escaped {
			sb.WriteRune(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			sb.WriteRune(ch)
			escaped = true
		case ch == '"':
			inString = !inString
			sb.WriteRune(ch)
		case inString && ch < 0x20:
			changed = true
			switch ch {
			case '\n':
				sb.WriteString(`\n`)
			case '\r':
				sb.WriteString(`\r`)
			case '\t':
				sb.WriteString(`\t`)
			case '\f':
				sb.WriteString(`\f`)
			case '\b':
				sb.WriteString(`\b`)
			default:
				fmt.Fprintf(&sb, `\u%04x`, ch)
			}
		default:
			sb.WriteRune(ch)
		}
	}

	if !changed {
		return nil, fmt.Errorf("no control characters inside strings")
	}
	return parseObject(sb.String())
}

// permissiveParse is strategy 6: a relaxed parser that tolerates trailing
// commas, unquoted keys, and single-quoted strings.
type permissiveParse struct{}

func (permissiveParse) Name() string { return "permissive" }

func (permissiveParse) Attempt(raw string) (map[string]any, error) {
	text := strings.TrimSpace(fenceMarkerRe.ReplaceAllString(raw, ""))

	var data map[string]any
	if err := json5.Unmarshal([]byte(text), &data); err != nil {
		return nil, parseError(err)
	}
	if data == nil {
		return nil, fmt.Errorf("parsed to null")
	}
	return data, nil
}

// parseObject strictly parses text as a single JSON object.
func parseObject(text string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, parseError(err)
	}
	if data == nil {
		return nil, fmt.Errorf("parsed to null")
	}
	return data, nil
}
