package repair

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/krishamaze/arin-bot-v2/pkg/validation"
)

// Schema describes an expected response document.
type Schema interface {
	Name() string
	// Fields lists the top-level keys used by the salvage stage.
	Fields() []Field
	// Normalize rewrites legacy or loosely typed documents into canonical form.
	// It must be idempotent.
	Normalize(doc []byte) ([]byte, error)
	// Validate returns a *ValidationError when doc does not match.
	Validate(doc []byte) error
}

// Field is one top-level key and a pattern whose first group captures its raw value.
type Field struct {
	Key      string
	Pattern  *regexp.Regexp
	Optional bool
}

// ValidationError lists every field that failed schema validation.
type ValidationError struct {
	Schema string
	Fields []validation.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Path, f.Rule))
	}
	return fmt.Sprintf("response does not match %s schema: %s", e.Schema, strings.Join(parts, ", "))
}

var validate = validation.New()

// validateAs decodes doc into T and runs struct validation on it.
func validateAs[T any](name string, doc []byte) error {
	var v T
	if err := json.NewDecoder(bytes.NewReader(doc)).Decode(&v); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return &ValidationError{Schema: name, Fields: []validation.FieldError{{
				Path:    te.Field,
				Rule:    "type",
				Message: "must be " + te.Type.String(),
			}}}
		}
		return &ValidationError{Schema: name, Fields: []validation.FieldError{{Rule: "decode", Message: err.Error()}}}
	}
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	if fields := validation.Fields(err); len(fields) > 0 {
		return &ValidationError{Schema: name, Fields: fields}
	}
	return err
}

// objectField matches "key": { ... } with one level of nesting.
func objectField(key string) Field {
	return Field{
		Key:     key,
		Pattern: regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*(\{(?:[^{}]|\{[^{}]*\})*\})`),
	}
}

// stringField matches "key": "..." honouring escapes.
func stringField(key string) Field {
	return Field{
		Key:     key,
		Pattern: regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*("(?:[^"\\]|\\.)*")`),
	}
}

// arrayField matches "key": [ ... ] of flat objects.
func arrayField(key string) Field {
	return Field{
		Key:     key,
		Pattern: regexp.MustCompile(`(?s)"` + regexp.QuoteMeta(key) + `"\s*:\s*(\[(?:[^\[\]{}]|\{[^{}]*\})*\])`),
	}
}

// salvage rebuilds an object from the fields it can find in text. Every
// required field must match and parse on its own.
func salvage(text string, fields []Field) ([]byte, bool) {
	if len(fields) == 0 {
		return nil, false
	}
	doc := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		m := f.Pattern.FindStringSubmatch(text)
		if m == nil {
			if f.Optional {
				continue
			}
			return nil, false
		}
		raw := m[1]
		if !json.Valid([]byte(raw)) {
			raw = escapeStrings(raw)
			if !json.Valid([]byte(raw)) {
				if f.Optional {
					continue
				}
				return nil, false
			}
		}
		doc[f.Key] = json.RawMessage(raw)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	return out, true
}
