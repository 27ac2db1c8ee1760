package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidPayload is the cause of every reply that could not be turned
// into a valid payload.
var ErrInvalidPayload = errors.New("invalid assistant payload")

// Schema is a compiled JSON schema for one payload shape.
type Schema struct {
	name   string
	schema *gojsonschema.Schema
}

// CompileSchema compiles raw as a JSON schema.
func CompileSchema(name string, raw []byte) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name string, raw []byte) *Schema {
	s, err := CompileSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Validate checks doc against the schema and joins every violation into one
// error.
func (s *Schema) Validate(doc []byte) error {
	res, err := s.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validating %s: %w", s.name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s does not match schema: %s", s.name, strings.Join(msgs, "; "))
}

// ParsePayload turns an assistant reply into a JSON object. The reply is
// parsed strictly first; if that fails the outermost balanced object is
// salvaged from the surrounding text (markdown fences, prose). The result
// is then validated against schema when one is given.
func ParsePayload(text string, schema *Schema) (json.RawMessage, error) {
	doc := []byte(strings.TrimSpace(text))
	if !isObject(doc) {
		salvaged, ok := Salvage(text)
		if !ok {
			return nil, fmt.Errorf("%w: no JSON object in reply", ErrInvalidPayload)
		}
		doc = []byte(salvaged)
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return json.RawMessage(doc), nil
}

// Salvage returns the first balanced {...} span of text that is valid JSON.
// Braces inside JSON strings are ignored while matching.
func Salvage(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func isObject(doc []byte) bool {
	return bytes.HasPrefix(doc, []byte("{")) && json.Valid(doc)
}
