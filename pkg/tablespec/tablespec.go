// Package tablespec holds the immutable table-pair identity used
// throughout the reconciliation engine.
package tablespec

import "github.com/dbsync/reconcile/pkg/safesql"

// TableSpec pairs a source identifier with its corresponding target
// identifier. Both must pass safesql.Validate before a TableSpec may be
// constructed.
type TableSpec struct {
	SourceIdentifier string
	TargetIdentifier string
}

// New validates both identifiers and returns a TableSpec, or the first
// validation error encountered.
func New(sourceIdentifier, targetIdentifier string) (TableSpec, error) {
	if _, err := safesql.Validate(sourceIdentifier); err != nil {
		return TableSpec{}, err
	}
	if _, err := safesql.Validate(targetIdentifier); err != nil {
		return TableSpec{}, err
	}
	return TableSpec{SourceIdentifier: sourceIdentifier, TargetIdentifier: targetIdentifier}, nil
}

// Name returns a short, display-friendly label for the pair: the source
// identifier, unless source and target differ, in which case both are
// shown.
func (t TableSpec) Name() string {
	if t.SourceIdentifier == t.TargetIdentifier {
		return t.SourceIdentifier
	}
	return t.SourceIdentifier + "->" + t.TargetIdentifier
}

// ParseList parses a comma-separated list of table names into TableSpecs.
// Each entry may be "name" (same identifier on both sides) or
// "source=target" to map differently-named tables.
func ParseList(csv string) ([]TableSpec, error) {
	var specs []TableSpec
	var cur []rune
	flush := func() error {
		s := trimSpace(string(cur))
		cur = cur[:0]
		if s == "" {
			return nil
		}
		spec, err := parseOne(s)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	}
	for _, r := range csv {
		if r == ',' {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		cur = append(cur, r)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return specs, nil
}

func parseOne(entry string) (TableSpec, error) {
	for i, r := range entry {
		if r == '=' {
			return New(trimSpace(entry[:i]), trimSpace(entry[i+1:]))
		}
	}
	return New(entry, entry)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
