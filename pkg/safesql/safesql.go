// Package safesql validates SQL identifiers before they are allowed to
// enter any query string and quotes them for a dialect; callers assemble
// queries from that quoted output plus dialect placeholders. It is the single path by
// which an identifier crosses into a query; direct interpolation of an
// unvalidated string anywhere else in the engine is a defect.
package safesql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dbsync/reconcile/pkg/dialect"
)

// validSegment matches a single unquoted identifier segment.
var validSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InvalidIdentifierError is returned when an identifier is rejected. It is
// fatal for the call that produced it and never triggers a retry.
type InvalidIdentifierError struct {
	Identifier string
	Reason     string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid SQL identifier %q: %s", e.Identifier, e.Reason)
}

// Validate checks a "name" or "schema.name" identifier against the strict
// ASCII pattern. It first strips a single layer of surrounding SQL-Server
// style brackets from each dot-separated segment so that operator input
// written in SQL-Server form (e.g. "[dbo].[orders]") is accepted, then
// re-validates the stripped form. It never accepts embedded quoting of
// any other kind, whitespace, unicode, or control characters.
func Validate(identifier string) ([]string, error) {
	if identifier == "" {
		return nil, &InvalidIdentifierError{identifier, "empty identifier"}
	}
	for _, r := range identifier {
		if r == 0 {
			return nil, &InvalidIdentifierError{identifier, "contains NUL byte"}
		}
	}
	segments := strings.Split(identifier, ".")
	if len(segments) > 2 {
		return nil, &InvalidIdentifierError{identifier, "at most one '.' separator is allowed"}
	}
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = stripBrackets(seg)
		if !validSegment.MatchString(seg) {
			return nil, &InvalidIdentifierError{identifier, fmt.Sprintf("segment %q does not match [A-Za-z_][A-Za-z0-9_]*", seg)}
		}
		out = append(out, seg)
	}
	return out, nil
}

// stripBrackets removes a single matching pair of surrounding "[" "]"
// from a segment, if present, so that SQL-Server bracket-quoted input can
// be re-validated in the current dialect.
func stripBrackets(seg string) string {
	if len(seg) >= 2 && strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]") {
		return seg[1 : len(seg)-1]
	}
	return seg
}

// QuoteIdentifier validates and quotes a "name" or "schema.name"
// identifier in the given dialect. This is the only function in the
// engine that is permitted to turn caller-supplied identifier text into
// a fragment of a SQL query.
func QuoteIdentifier(d dialect.Dialect, identifier string) (string, error) {
	segments, err := Validate(identifier)
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(segments))
	for i, seg := range segments {
		quoted[i] = d.Quote(seg)
	}
	return strings.Join(quoted, "."), nil
}

// ValidateNonNegativeInt validates an integer parameter that is destined
// to be interpolated directly into a query (e.g. a LIMIT/OFFSET chunk
// size), per spec.md §9 Open Question (b): chunk sizes and offsets may be
// interpolated after integer validation, but values never may.
func ValidateNonNegativeInt(name string, v int) error {
	if v < 0 {
		return fmt.Errorf("invalid %s: %d must be >= 0", name, v)
	}
	return nil
}
