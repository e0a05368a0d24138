package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrEmptyScope is returned for exception clauses without any scope value
var ErrEmptyScope = errors.New("exception clause has empty scope")

// Polarity says whether an exception carves out (EXCLUDE) or limits to (INCLUDE) its scope
type Polarity string

const (
	PolarityInclude Polarity = "INCLUDE" // Requirement applies only when the scope matches
	PolarityExclude Polarity = "EXCLUDE" // Requirement does not apply when the scope matches
)

// ExceptionKind identifies the exception family
type ExceptionKind string

const (
	ExceptionGeographic ExceptionKind = "geographic"
	ExceptionDiagnosis  ExceptionKind = "diagnosis"
	ExceptionAge        ExceptionKind = "age"
)

// AgeOp is a comparison operator in an age predicate
type AgeOp string

const (
	AgeAtLeast  AgeOp = ">="
	AgeAtMost   AgeOp = "<="
	AgeLessThan AgeOp = "<"
	AgeBetween  AgeOp = "between" // Inclusive on both ends
)

// AgePredicate is a parsed age condition such as "age >= 18"
type AgePredicate struct {
	Op  AgeOp `json:"op"`
	Min int   `json:"min,omitempty"`
	Max int   `json:"max,omitempty"`
}

// Matches reports whether age satisfies the predicate
func (p AgePredicate) Matches(age int) bool {
	switch p.Op {
	case AgeAtLeast:
		return age >= p.Min
	case AgeAtMost:
		return age <= p.Max
	case AgeLessThan:
		return age < p.Max
	case AgeBetween:
		return age >= p.Min && age <= p.Max
	default:
		return false
	}
}

// String renders the predicate as a scope value, e.g. "age>=18" or "age:5-12"
func (p AgePredicate) String() string {
	switch p.Op {
	case AgeAtLeast:
		return "age>=" + strconv.Itoa(p.Min)
	case AgeAtMost:
		return "age<=" + strconv.Itoa(p.Max)
	case AgeLessThan:
		return "age<" + strconv.Itoa(p.Max)
	case AgeBetween:
		return fmt.Sprintf("age:%d-%d", p.Min, p.Max)
	default:
		return ""
	}
}

// ParseAgePredicate is the inverse of AgePredicate.String
func ParseAgePredicate(s string) (AgePredicate, error) {
	switch {
	case strings.HasPrefix(s, "age>="):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "age>="))
		return AgePredicate{Op: AgeAtLeast, Min: n}, err
	case strings.HasPrefix(s, "age<="):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "age<="))
		return AgePredicate{Op: AgeAtMost, Max: n}, err
	case strings.HasPrefix(s, "age<"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "age<"))
		return AgePredicate{Op: AgeLessThan, Max: n}, err
	case strings.HasPrefix(s, "age:"):
		lo, hi, ok := strings.Cut(strings.TrimPrefix(s, "age:"), "-")
		if !ok {
			return AgePredicate{}, fmt.Errorf("malformed age range: %q", s)
		}
		minAge, err := strconv.Atoi(lo)
		if err != nil {
			return AgePredicate{}, err
		}
		maxAge, err := strconv.Atoi(hi)
		return AgePredicate{Op: AgeBetween, Min: minAge, Max: maxAge}, err
	default:
		return AgePredicate{}, fmt.Errorf("unknown age predicate: %q", s)
	}
}

// ExceptionClause is a scoped carve-out attached to a Rule
type ExceptionClause struct {
	Kind     ExceptionKind `json:"kind"`
	Polarity Polarity      `json:"polarity"`
	Scope    []string      `json:"scope"`            // State codes, diagnosis codes, or age predicates
	Source   int           `json:"source,omitempty"` // Ordinal of the chunk the clause came from
}

// NewExceptionClause builds a clause and rejects an empty scope
func NewExceptionClause(kind ExceptionKind, polarity Polarity, scope []string, source int) (*ExceptionClause, error) {
	clause := &ExceptionClause{Kind: kind, Polarity: polarity, Scope: scope, Source: source}
	if err := clause.Validate(); err != nil {
		return nil, err
	}
	return clause, nil
}

// Validate checks the clause invariants
func (e *ExceptionClause) Validate() error {
	if len(e.Scope) == 0 {
		return ErrEmptyScope
	}
	switch e.Polarity {
	case PolarityInclude, PolarityExclude:
	default:
		return fmt.Errorf("invalid polarity %q", e.Polarity)
	}
	switch e.Kind {
	case ExceptionGeographic, ExceptionDiagnosis, ExceptionAge:
	default:
		return fmt.Errorf("invalid exception kind %q", e.Kind)
	}
	return nil
}

// InScope reports whether value falls in the clause scope. Age clauses
// take a decimal age; other kinds compare exactly.
func (e *ExceptionClause) InScope(value string) bool {
	if e.Kind == ExceptionAge {
		age, err := strconv.Atoi(value)
		if err != nil {
			return false
		}
		for _, s := range e.Scope {
			if pred, err := ParseAgePredicate(s); err == nil && pred.Matches(age) {
				return true
			}
		}
		return false
	}
	for _, s := range e.Scope {
		if strings.EqualFold(s, value) {
			return true
		}
	}
	return false
}

// RequirementApplies reports whether the rule's authorization requirement
// holds for value under this clause
func (e *ExceptionClause) RequirementApplies(value string) bool {
	if e.Polarity == PolarityExclude {
		return !e.InScope(value)
	}
	return e.InScope(value)
}

// Key identifies the clause for deduplication
func (e *ExceptionClause) Key() string {
	scope := append([]string(nil), e.Scope...)
	sort.Strings(scope)
	return string(e.Kind) + "|" + string(e.Polarity) + "|" + strings.Join(scope, ",")
}
