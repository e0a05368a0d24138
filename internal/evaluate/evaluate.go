// Package evaluate answers whether a service needs prior authorization
// for one patient, given the rules extracted from a policy document.
package evaluate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ppiankov/authrules/internal/model"
)

// ErrNoCode is returned when the context names no service code
var ErrNoCode = errors.New("context has no service code")

// Context describes the service being requested and the patient it is for.
// Empty fields are unknown; a rule condition on an unknown field is
// assumed to hold.
type Context struct {
	Code           string   `json:"code"`
	State          string   `json:"state,omitempty"`
	Age            *int     `json:"age,omitempty"`
	Diagnoses      []string `json:"diagnoses,omitempty"`
	PlaceOfService string   `json:"place_of_service,omitempty"`
}

// Decision is the outcome for one context
type Decision struct {
	Code       string          `json:"code"`
	State      model.AuthState `json:"state"`
	Required   bool            `json:"required"` // REQUIRED or CONDITIONAL
	Reason     string          `json:"reason"`
	Confidence float64         `json:"confidence"`
	RuleID     string          `json:"rule_id,omitempty"` // Empty when no rule lists the code
	Matched    []string        `json:"matched,omitempty"` // Every rule that listed the code
}

// outcome is one rule's verdict for the context
type outcome struct {
	rule  *model.Rule
	state model.AuthState
	notes []string
}

// Evaluate applies every rule listing ctx.Code and returns the most
// restrictive result. Ties go to the higher-confidence rule, then to the
// earlier one.
func Evaluate(rules []model.Rule, ctx Context) (Decision, error) {
	code := strings.ToUpper(strings.TrimSpace(ctx.Code))
	if code == "" {
		return Decision{}, ErrNoCode
	}
	ctx.Code = code
	ctx.State = strings.ToUpper(strings.TrimSpace(ctx.State))

	decision := Decision{Code: code, State: model.AuthNotRequired}

	var best *outcome
	for i := range rules {
		rule := &rules[i]
		if !listsCode(rule.CPTCodes, code) {
			continue
		}
		decision.Matched = append(decision.Matched, rule.ID)

		o := apply(rule, ctx)
		if best == nil || better(o, *best) {
			best = &o
		}
	}

	if best == nil {
		decision.Reason = "no rule lists " + code
		return decision, nil
	}

	decision.State = best.state
	decision.Required = best.state == model.AuthRequired || best.state == model.AuthConditional
	decision.Confidence = best.rule.Confidence
	decision.RuleID = best.rule.ID
	decision.Reason = reason(best)
	return decision, nil
}

func better(a, b outcome) bool {
	ra, rb := a.state.Restrictiveness(), b.state.Restrictiveness()
	if ra != rb {
		return ra > rb
	}
	return a.rule.Confidence > b.rule.Confidence
}

// apply works out the rule's effective state for the context
func apply(rule *model.Rule, ctx Context) outcome {
	o := outcome{rule: rule, state: rule.AuthRequirement}
	lift := func(note string) {
		o.state = model.AuthNotRequired
		o.notes = append(o.notes, note)
	}

	// Diagnosis codes on the rule narrow it to those diagnoses
	if rule.ICDCodes.Len() > 0 {
		switch {
		case len(ctx.Diagnoses) == 0:
			o.notes = append(o.notes, "diagnosis not given, rule lists "+strings.Join(rule.ICDCodes.Values(), ", "))
		case !anyDiagnosis(rule.ICDCodes, ctx.Diagnoses):
			lift("diagnosis not listed by rule")
		}
	}

	for i := range rule.Exceptions {
		e := &rule.Exceptions[i]
		values, known := exceptionValues(e.Kind, ctx)
		if !known {
			o.notes = append(o.notes, fmt.Sprintf("%s %s exception not checked: %s unknown", e.Kind, strings.ToLower(string(e.Polarity)), e.Kind))
			continue
		}
		if !appliesToAny(e, values) {
			lift(fmt.Sprintf("%s %s {%s}", e.Kind, e.Polarity, strings.Join(e.Scope, ", ")))
		}
	}

	if ctx.PlaceOfService != "" {
		for _, pos := range rule.PlaceOfService {
			switch {
			case pos.Code == "*":
				o.notes = append(o.notes, "site of service review")
			case pos.Code == ctx.PlaceOfService && !pos.RequiresAuth:
				lift("place of service " + pos.Code + " " + pos.Description)
			case pos.Code == ctx.PlaceOfService && o.state == model.AuthConditional:
				o.state = model.AuthRequired
				o.notes = append(o.notes, "place of service "+pos.Code+" requires authorization")
			}
		}
	}
	return o
}

func exceptionValues(kind model.ExceptionKind, ctx Context) ([]string, bool) {
	switch kind {
	case model.ExceptionGeographic:
		return []string{ctx.State}, ctx.State != ""
	case model.ExceptionAge:
		if ctx.Age == nil {
			return nil, false
		}
		return []string{strconv.Itoa(*ctx.Age)}, true
	case model.ExceptionDiagnosis:
		return ctx.Diagnoses, len(ctx.Diagnoses) > 0
	default:
		return nil, false
	}
}

// appliesToAny reports whether the requirement survives the clause for at
// least one value. Several diagnoses count as a match when any of them is in
// scope.
func appliesToAny(e *model.ExceptionClause, values []string) bool {
	inScope := false
	for _, v := range values {
		if e.InScope(v) {
			inScope = true
			break
		}
	}
	if e.Polarity == model.PolarityExclude {
		return !inScope
	}
	return inScope
}

func anyDiagnosis(codes model.CodeSet, diagnoses []string) bool {
	for _, dx := range diagnoses {
		if codes.Contains(strings.ToUpper(strings.TrimSpace(dx))) {
			return true
		}
	}
	return false
}

func reason(o *outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s by rule %s", o.rule.AuthRequirement, o.rule.Service)
	if o.state != o.rule.AuthRequirement {
		fmt.Fprintf(&b, ", %s for this context", o.state)
	}
	if len(o.notes) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(o.notes, "; "))
	}
	return b.String()
}

// listsCode matches the code directly or inside a range member
func listsCode(codes model.CodeSet, code string) bool {
	if codes.Contains(code) {
		return true
	}
	for _, c := range codes.Codes() {
		if c.IsRange() && inRange(c.Value, code) {
			return true
		}
	}
	return false
}

// inRange checks "29805-29825" or "J9000-J9999" style ranges. Both ends and
// the code must share a prefix letter (or none) and digit count.
func inRange(rng, code string) bool {
	lo, hi, ok := strings.Cut(rng, "-")
	if !ok || len(lo) != len(code) || len(hi) != len(code) {
		return false
	}
	prefix := func(s string) (string, string) {
		if s != "" && (s[0] < '0' || s[0] > '9') {
			return s[:1], s[1:]
		}
		return "", s
	}
	lp, ln := prefix(lo)
	hp, hn := prefix(hi)
	cp, cn := prefix(code)
	if lp != cp || hp != cp {
		return false
	}
	l, err1 := strconv.Atoi(ln)
	h, err2 := strconv.Atoi(hn)
	c, err3 := strconv.Atoi(cn)
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	return c >= l && c <= h
}

// ReadRules reads rules from a JSON report or a JSONL file of rule records
func ReadRules(r io.Reader) ([]model.Rule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var probe map[string]json.RawMessage
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&probe); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if _, ok := probe["rules"]; ok {
		var report model.Report
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		return report.Rules, nil
	}

	var rules []model.Rule
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record model.RuleRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("decode rule record line %d: %w", line, err)
		}
		rules = append(rules, record.Rule())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}
	return rules, nil
}
