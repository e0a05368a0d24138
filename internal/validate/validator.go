// Package validate checks assembled rules against the output invariants
// before a report leaves the pipeline.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/authrules/internal/model"
)

// Violation is one broken invariant
type Violation struct {
	RuleID  string `json:"rule_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.RuleID == "" {
		return fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("rule %s %s: %s", v.RuleID, v.Field, v.Message)
}

// Error lists every violation found in one validation pass
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%d invariant violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Validator checks rules. It holds no state.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every rule and returns *Error when any invariant is broken
func (v *Validator) Validate(rules []model.Rule) error {
	var violations []Violation
	ids := map[string]bool{}
	pairs := map[string]string{}

	for i := range rules {
		r := &rules[i]
		add := func(field, format string, args ...interface{}) {
			violations = append(violations, Violation{RuleID: r.ID, Field: field, Message: fmt.Sprintf(format, args...)})
		}

		// 1. Identity
		if r.ID == "" {
			add("id", "empty identifier")
		} else if ids[r.ID] {
			add("id", "duplicate identifier")
		}
		ids[r.ID] = true

		// 2. Single authorization state
		if r.AuthRequirement.Restrictiveness() == 0 && r.AuthRequirement != model.AuthNotRequired {
			add("auth_requirement", "unknown state %q", r.AuthRequirement)
		}

		// 3. Codes and dedupe key
		if r.CPTCodes.Len() == 0 {
			add("cpt_codes", "empty procedure code set")
		}
		key := string(r.AuthRequirement) + "|" + r.CPTCodes.Key()
		if other, ok := pairs[key]; ok {
			add("cpt_codes", "same state and codes as rule %s", other)
		} else {
			pairs[key] = r.ID
		}

		// 4. Exceptions
		for j := range r.Exceptions {
			if err := r.Exceptions[j].Validate(); err != nil {
				add(fmt.Sprintf("exceptions[%d]", j), "%v", err)
			}
		}

		// 5. Score bounds
		if r.Confidence < 0 || r.Confidence > 1 {
			add("confidence_score", "%v outside [0,1]", r.Confidence)
		}

		// 6. Audit trail
		if len(r.SourceRefs) == 0 {
			add("source_refs", "no source chunks")
		} else if !sort.IntsAreSorted(r.SourceRefs) {
			add("source_refs", "not in document order")
		}
	}

	if len(violations) > 0 {
		return &Error{Violations: violations}
	}
	return nil
}

// Coverage checks that every code token of the document is accounted for:
// it is in some rule's procedure or diagnosis set, in the scope of a
// diagnosis exception, or it belongs to a chunk surfaced as an audit gap.
func (v *Validator) Coverage(all model.CodeSet, rules []model.Rule, gaps model.CodeSet) error {
	var covered model.CodeSet
	for i := range rules {
		covered.AddAll(rules[i].CPTCodes)
		covered.AddAll(rules[i].ICDCodes)
		for _, e := range rules[i].Exceptions {
			if e.Kind != model.ExceptionDiagnosis {
				continue
			}
			for _, code := range e.Scope {
				covered.Add(model.Code{Value: code, Kind: model.CodeKindDiagnosis})
			}
		}
	}
	covered.AddAll(gaps)

	var violations []Violation
	for _, code := range all.Values() {
		if !covered.Contains(code) {
			violations = append(violations, Violation{Field: "coverage", Message: fmt.Sprintf("code %s dropped", code)})
		}
	}
	if len(violations) > 0 {
		return &Error{Violations: violations}
	}
	return nil
}
