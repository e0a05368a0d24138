package model

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// CodeKind classifies an extracted code token
type CodeKind string

const (
	CodeKindDiagnosis      CodeKind = "diagnosis"       // Letter + 2 digits, optional .1-4 digits (ICD-10 style)
	CodeKindAlphanumeric   CodeKind = "alphanumeric"    // Letter A-V + 4 digits (HCPCS style)
	CodeKindNumeric        CodeKind = "numeric"         // 5 digits (CPT style)
	CodeKindProcedureRange CodeKind = "procedure_range" // Unexpanded "start-end" range of procedure codes
)

// IsProcedure reports whether the kind belongs in a procedure CodeSet
func (k CodeKind) IsProcedure() bool {
	return k == CodeKindAlphanumeric || k == CodeKindNumeric || k == CodeKindProcedureRange
}

// Checked in this order; a token takes the first kind that matches.
var codeKindOrder = []struct {
	kind    CodeKind
	pattern *regexp.Regexp
}{
	{CodeKindDiagnosis, regexp.MustCompile(`^[A-Z]\d{2}(?:\.\d{1,4})?$`)},
	{CodeKindAlphanumeric, regexp.MustCompile(`^[A-V]\d{4}$`)},
	{CodeKindNumeric, regexp.MustCompile(`^\d{5}$`)},
	{CodeKindProcedureRange, regexp.MustCompile(`^(?:\d{5}-\d{5}|[A-V]\d{4}-[A-V]\d{4})$`)},
}

// ClassifyToken returns the code kind of a single token, if any
func ClassifyToken(token string) (CodeKind, bool) {
	for _, entry := range codeKindOrder {
		if entry.pattern.MatchString(token) {
			return entry.kind, true
		}
	}
	return "", false
}

// Code is one extracted code
type Code struct {
	Value string   `json:"value"`
	Kind  CodeKind `json:"kind"`
}

// IsRange reports whether the code is an unexpanded range token
func (c Code) IsRange() bool {
	return c.Kind == CodeKindProcedureRange
}

// CodeSet is an ordered-by-first-seen, duplicate-free collection of codes.
// It serializes as a plain list of code strings.
type CodeSet struct {
	codes []Code
	index map[string]struct{}
}

// NewCodeSet builds a set from the given codes, keeping first occurrences
func NewCodeSet(codes ...Code) CodeSet {
	var set CodeSet
	for _, c := range codes {
		set.Add(c)
	}
	return set
}

// Add inserts a code; it returns false when the value was already present
func (s *CodeSet) Add(c Code) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[c.Value]; ok {
		return false
	}
	s.index[c.Value] = struct{}{}
	s.codes = append(s.codes, c)
	return true
}

// AddAll inserts every code of other, preserving other's order
func (s *CodeSet) AddAll(other CodeSet) {
	for _, c := range other.codes {
		s.Add(c)
	}
}

// Contains reports whether value is in the set
func (s CodeSet) Contains(value string) bool {
	_, ok := s.index[value]
	return ok
}

// Len returns the number of codes
func (s CodeSet) Len() int {
	return len(s.codes)
}

// Codes returns a copy of the codes in first-seen order
func (s CodeSet) Codes() []Code {
	out := make([]Code, len(s.codes))
	copy(out, s.codes)
	return out
}

// Values returns the code strings in first-seen order
func (s CodeSet) Values() []string {
	out := make([]string, len(s.codes))
	for i, c := range s.codes {
		out[i] = c.Value
	}
	return out
}

// HasRange reports whether any member is an unexpanded range
func (s CodeSet) HasRange() bool {
	for _, c := range s.codes {
		if c.IsRange() {
			return true
		}
	}
	return false
}

// Filter returns the subset whose kind satisfies keep
func (s CodeSet) Filter(keep func(CodeKind) bool) CodeSet {
	var out CodeSet
	for _, c := range s.codes {
		if keep(c.Kind) {
			out.Add(c)
		}
	}
	return out
}

// Key is an order-independent identity used for deduplication
func (s CodeSet) Key() string {
	values := s.Values()
	sort.Strings(values)
	return strings.Join(values, ",")
}

// MarshalJSON encodes the set as a list of strings
func (s CodeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes a list of strings, re-deriving each code's kind
func (s *CodeSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = CodeSet{}
	for _, v := range values {
		kind, _ := ClassifyToken(v)
		s.Add(Code{Value: v, Kind: kind})
	}
	return nil
}
