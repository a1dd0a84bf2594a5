// Package repair turns raw model text into a validated JSON document.
//
// Repair runs a fixed sequence of stages and stops at the first one that
// yields a parseable object:
//
//	1 extract   strip fences and surrounding prose
//	2 direct    parse as is
//	3 escape    string-aware escaping and trailing comma removal
//	4 collapse  raw whitespace outside strings becomes a space
//	5 quotefix  escape the quote nearest a syntax error, a few times
//	6 salvage   rebuild the object from per-field regular expressions
//
// The parsed document is then normalized and validated against a Schema.
package repair

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Stage identifies the step that produced a parseable document.
type Stage int

const (
	StageNone Stage = iota
	StageExtract
	StageDirect
	StageEscape
	StageCollapse
	StageQuoteFix
	StageSalvage
)

func (s Stage) String() string {
	switch s {
	case StageExtract:
		return "extract"
	case StageDirect:
		return "direct"
	case StageEscape:
		return "escape"
	case StageCollapse:
		return "collapse"
	case StageQuoteFix:
		return "quotefix"
	case StageSalvage:
		return "salvage"
	}
	return "none"
}

const (
	defaultMaxQuoteFixes = 3
	snippetLimit         = 1000
)

// ErrNotObject is wrapped by FormatError when the text parses to something
// other than a JSON object.
var ErrNotObject = errors.New("top-level value is not an object")

// FormatError means no stage could produce a parseable object.
type FormatError struct {
	Snippet string
	Offset  int64
	Err     error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid response format at offset %d: %v", e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Outcome is a successfully repaired document.
type Outcome struct {
	// JSON is compact, normalized and schema-valid.
	JSON       []byte
	Stage      Stage
	QuoteFixes int
}

// Repaired reports whether any stage beyond a direct parse was needed.
func (o *Outcome) Repaired() bool { return o.Stage > StageDirect }

// Repairer runs the repair stages.
type Repairer struct {
	maxQuoteFixes int
	log           *zap.Logger
}

// New creates a Repairer.
func New(log *zap.Logger) *Repairer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repairer{maxQuoteFixes: defaultMaxQuoteFixes, log: log.Named("repair")}
}

// Repair parses raw into a document matching schema. It returns a
// *FormatError when the text cannot be parsed and a *ValidationError when it
// parses but does not match the schema.
func (r *Repairer) Repair(raw string, schema Schema) (*Outcome, error) {
	doc, stage, fixes, err := r.parse(raw, schema)
	if err != nil {
		r.log.Warn("response unparseable", zap.String("schema", schema.Name()), zap.Error(err))
		return nil, err
	}

	doc, err = schema.Normalize(doc)
	if err != nil {
		return nil, &FormatError{Snippet: snippet(raw), Err: err}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, &FormatError{Snippet: snippet(raw), Err: err}
	}
	doc = buf.Bytes()

	if err := schema.Validate(doc); err != nil {
		return nil, err
	}

	if stage > StageDirect {
		r.log.Info("response repaired", zap.String("schema", schema.Name()), zap.Stringer("stage", stage), zap.Int("quote_fixes", fixes))
	}
	return &Outcome{JSON: doc, Stage: stage, QuoteFixes: fixes}, nil
}

func (r *Repairer) parse(raw string, schema Schema) ([]byte, Stage, int, error) {
	text := Extract(raw)

	if ok, _, _ := tryParse(text); ok {
		return []byte(text), StageDirect, 0, nil
	}

	escaped := escapeStrings(text)
	if ok, _, _ := tryParse(escaped); ok {
		return []byte(escaped), StageEscape, 0, nil
	}

	collapsed := collapseWhitespace(escaped)
	ok, offset, lastErr := tryParse(collapsed)
	if ok {
		return []byte(collapsed), StageCollapse, 0, nil
	}

	// The lookahead in stage 3 can misjudge a quote followed by a comma, so
	// quote fixing also starts from a copy with only control characters escaped.
	for _, candidate := range []string{collapseWhitespace(escapeControls(text)), collapsed} {
		if doc, fixes, ok := r.fixQuotes(candidate); ok {
			return doc, StageQuoteFix, fixes, nil
		}
	}

	for _, candidate := range []string{text, escaped} {
		if doc, ok := salvage(candidate, schema.Fields()); ok {
			return doc, StageSalvage, 0, nil
		}
	}

	return nil, StageNone, 0, &FormatError{Snippet: snippet(raw), Offset: offset, Err: lastErr}
}

// fixQuotes escapes the quote nearest each syntax error, up to maxQuoteFixes times.
func (r *Repairer) fixQuotes(s string) ([]byte, int, bool) {
	_, offset, _ := tryParse(s)
	for i := 1; i <= r.maxQuoteFixes; i++ {
		next, found := escapeQuoteBefore(s, offset)
		if !found {
			return nil, 0, false
		}
		s = next
		var ok bool
		if ok, offset, _ = tryParse(s); ok {
			return []byte(s), i, true
		}
	}
	return nil, 0, false
}

// tryParse reports whether s is a JSON object. On a syntax error it also
// returns the byte offset the decoder reached.
func tryParse(s string) (bool, int64, error) {
	var v any
	err := json.Unmarshal([]byte(s), &v)
	if err == nil {
		if _, ok := v.(map[string]any); ok {
			return true, 0, nil
		}
		return false, 0, ErrNotObject
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return false, se.Offset, err
	}
	return false, int64(len(s)), err
}

func snippet(raw string) string {
	if len(raw) <= snippetLimit {
		return raw
	}
	n := snippetLimit
	for n > 0 && !utf8.RuneStart(raw[n]) {
		n--
	}
	return strings.Clone(raw[:n])
}
