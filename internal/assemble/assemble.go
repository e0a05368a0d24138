// Package assemble folds annotated chunks into authorization rules.
//
// Within one structural section a code-bearing chunk anchors a span. The span
// takes its state from the anchor's own cue, else from the nearest preceding
// authorization statement, else the conservative CONDITIONAL default. Exception
// chunks following the anchor join its span until the next authorization
// statement or section boundary.
package assemble

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/score"
)

// ruleNamespace seeds deterministic rule identifiers
var ruleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ppiankov/authrules/rule"))

// Ambiguity marks a rule whose state was not decided by a clear cue
type Ambiguity struct {
	Ordinal int // Anchor chunk
	RuleID  string
	Auth    model.AuthDecision
}

// Result is the output of one Assemble call
type Result struct {
	Rules      []model.Rule
	Unattached []int // Exception or governing chunks that reached no rule
	Ambiguous  []Ambiguity
}

// Assembler builds rules. It keeps no state between calls.
type Assembler struct {
	scorer *score.Scorer
}

// New creates an assembler
func New(scorer *score.Scorer) *Assembler {
	return &Assembler{scorer: scorer}
}

type span struct {
	anchor    *model.AnnotatedChunk
	governing *model.AnnotatedChunk
	members   []*model.AnnotatedChunk
}

// sectionWalk tracks spans of the section being walked
type sectionWalk struct {
	governing *model.AnnotatedChunk
	governed  bool // The governing chunk was used by at least one span
	current   *span
	pending   []*model.AnnotatedChunk
	spans     []*span
}

// Assemble groups chunks into spans and produces deduplicated rules in
// document order. Chunks must be in ordinal order.
func (a *Assembler) Assemble(chunks []model.AnnotatedChunk) Result {
	var spans []*span
	var unattached []int

	walk := &sectionWalk{}
	section := -1
	endSection := func() {
		unattached = append(unattached, walk.finish()...)
		spans = append(spans, walk.spans...)
		walk = &sectionWalk{}
	}

	for i := range chunks {
		c := &chunks[i]
		if c.SectionIndex != section {
			endSection()
			section = c.SectionIndex
		}

		switch {
		case c.Label == model.ContentOther || c.Label == model.ContentUnlabeled:
			continue

		case c.HasProcedures():
			s := &span{anchor: c, governing: walk.governing, members: walk.pending}
			if s.governing != nil {
				walk.governed = true
			}
			walk.pending = nil
			walk.current = s
			walk.spans = append(walk.spans, s)
			if c.Label == model.ContentAuthorizationRule && c.Auth != nil {
				walk.setGoverning(c, &unattached)
				walk.governed = true
			}

		case c.Label == model.ContentAuthorizationRule:
			unattached = append(unattached, walk.attachBackward(walk.pending)...)
			walk.pending = nil
			walk.setGoverning(c, &unattached)
			walk.current = nil

		case c.Label.IsException():
			if walk.current != nil {
				walk.current.members = append(walk.current.members, c)
			} else {
				walk.pending = append(walk.pending, c)
			}
		}
	}
	endSection()

	res := Result{Unattached: dedupeInts(unattached)}
	index := map[string]int{}
	for _, s := range spans {
		for _, built := range a.build(s) {
			key := string(built.rule.AuthRequirement) + "|" + built.rule.CPTCodes.Key()
			if at, ok := index[key]; ok {
				merge(&res.Rules[at], &built.rule)
				continue
			}
			index[key] = len(res.Rules)
			res.Rules = append(res.Rules, built.rule)
			if !built.auth.Unambiguous {
				res.Ambiguous = append(res.Ambiguous, Ambiguity{Ordinal: s.anchor.Ordinal, RuleID: built.rule.ID, Auth: built.auth})
			}
		}
	}
	return res
}

// setGoverning replaces the governing chunk. A governing chunk that carried
// codes and governed nothing is an audit gap.
func (w *sectionWalk) setGoverning(c *model.AnnotatedChunk, unattached *[]int) {
	if w.governing != nil && w.governing != c && !w.governed && w.governing.Codes.Len() > 0 {
		*unattached = append(*unattached, w.governing.Ordinal)
	}
	w.governing = c
	w.governed = false
}

// attachBackward joins exceptions to the nearest preceding span of the
// section. It returns the ordinals of exceptions that had nowhere to go.
func (w *sectionWalk) attachBackward(exceptions []*model.AnnotatedChunk) []int {
	if len(exceptions) == 0 {
		return nil
	}
	if len(w.spans) == 0 {
		out := make([]int, len(exceptions))
		for i, c := range exceptions {
			out[i] = c.Ordinal
		}
		return out
	}
	last := w.spans[len(w.spans)-1]
	last.members = append(last.members, exceptions...)
	return nil
}

func (w *sectionWalk) finish() []int {
	out := w.attachBackward(w.pending)
	w.pending = nil
	if w.governing != nil && !w.governed && w.governing.Codes.Len() > 0 {
		out = append(out, w.governing.Ordinal)
	}
	return out
}

type builtRule struct {
	rule model.Rule
	auth model.AuthDecision
}

type stateGroup struct {
	auth  model.AuthDecision
	codes model.CodeSet
}

// build produces one rule per distinct state found in the span's anchor
func (a *Assembler) build(s *span) []builtRule {
	var groups []*stateGroup
	byState := map[model.AuthState]*stateGroup{}
	for _, line := range s.anchor.Lines {
		auth := line.Auth
		if !line.Own {
			auth = inherited(s.governing)
		}
		g, ok := byState[auth.State]
		if !ok {
			g = &stateGroup{auth: auth}
			byState[auth.State] = g
			groups = append(groups, g)
		}
		g.codes.AddAll(line.Codes)
	}

	var diagnoses model.CodeSet
	var exceptions []model.ExceptionClause
	var places []model.PlaceOfService
	refs := []int{s.anchor.Ordinal}
	unresolved := 0

	chunks := append([]*model.AnnotatedChunk{s.anchor}, s.members...)
	if s.governing != nil && s.governing != s.anchor {
		chunks = append(chunks, s.governing)
	}
	for _, c := range chunks {
		// A resolved diagnosis clause carries its own codes; listing them
		// on the rule too would narrow the rule to the exempt diagnoses
		if c.Exception == nil || c.Exception.Kind != model.ExceptionDiagnosis {
			diagnoses.AddAll(c.Diagnoses)
		}
		places = appendPlaces(places, c.POS)
		refs = append(refs, c.Ordinal)
		if c.Label.IsException() {
			if c.Exception != nil {
				exceptions = appendClause(exceptions, *c.Exception)
			} else {
				unresolved++
			}
		}
	}
	refs = dedupeInts(refs)

	out := make([]builtRule, 0, len(groups))
	for _, g := range groups {
		confidence, signals := a.scorer.Calculate(score.Input{
			Coverage:   s.anchor.Coverage,
			Auth:       g.auth,
			Unresolved: unresolved,
			HasRange:   g.codes.HasRange(),
		})
		out = append(out, builtRule{
			auth: g.auth,
			rule: model.Rule{
				ID:              RuleID(g.auth.State, g.codes),
				Service:         serviceName(s.anchor),
				Category:        s.anchor.Source.Category,
				AuthRequirement: g.auth.State,
				CPTCodes:        g.codes,
				ICDCodes:        diagnoses,
				Exceptions:      append([]model.ExceptionClause{}, exceptions...),
				Confidence:      confidence,
				SourceRefs:      append([]int{}, refs...),
				PlaceOfService:  append([]model.PlaceOfService(nil), places...),
				Signals:         signals,
			},
		})
	}
	return out
}

// inherited returns the governing decision, or the conservative default
func inherited(governing *model.AnnotatedChunk) model.AuthDecision {
	if governing != nil && governing.Auth != nil {
		return *governing.Auth
	}
	return model.AuthDecision{State: model.AuthConditional}
}

// RuleID derives a stable identifier from the state and the code set
func RuleID(state model.AuthState, codes model.CodeSet) string {
	return uuid.NewSHA1(ruleNamespace, []byte(string(state)+"|"+codes.Key())).String()
}

// merge folds a duplicate (state, code set) rule into the first occurrence
func merge(into, from *model.Rule) {
	into.SourceRefs = dedupeInts(append(into.SourceRefs, from.SourceRefs...))
	into.ICDCodes.AddAll(from.ICDCodes)
	for _, e := range from.Exceptions {
		into.Exceptions = appendClause(into.Exceptions, e)
	}
	into.PlaceOfService = appendPlaces(into.PlaceOfService, from.PlaceOfService)
	if from.Confidence < into.Confidence {
		into.Confidence = from.Confidence
		into.Signals = from.Signals
	}
}

func appendClause(list []model.ExceptionClause, clause model.ExceptionClause) []model.ExceptionClause {
	key := clause.Key()
	for _, existing := range list {
		if existing.Key() == key {
			return list
		}
	}
	return append(list, clause)
}

func appendPlaces(list, add []model.PlaceOfService) []model.PlaceOfService {
	for _, p := range add {
		dup := false
		for _, existing := range list {
			if existing.Code == p.Code {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, p)
		}
	}
	return list
}

func dedupeInts(values []int) []int {
	if len(values) == 0 {
		return []int{}
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// unnamedService names a rule whose text offers nothing better
const unnamedService = "Extracted rule"

// serviceName is the section heading, else the leading words of the anchor
// before its first cue or code, else the rest of the first line once the
// cue and codes are taken out
func serviceName(anchor *model.AnnotatedChunk) string {
	if anchor.Source.Section != "" {
		return anchor.Source.Section
	}
	first := strings.SplitN(anchor.Text, "\n", 2)[0]
	cue := ""
	if anchor.Auth != nil {
		cue = anchor.Auth.Cue
	}

	cut := len(first)
	if cue != "" {
		if i := strings.Index(strings.ToLower(first), cue); i >= 0 && i < cut {
			cut = i
		}
	}
	for _, c := range anchor.Codes.Values() {
		if i := strings.Index(first, c); i >= 0 && i < cut {
			cut = i
		}
	}
	if lead := trimName(first[:cut]); lead != "" {
		return lead
	}

	rest := first
	if cue != "" {
		if i := strings.Index(strings.ToLower(rest), cue); i >= 0 && i+len(cue) <= len(rest) {
			rest = rest[:i] + " " + rest[i+len(cue):]
		}
	}
	for _, c := range anchor.Codes.Values() {
		rest = strings.ReplaceAll(rest, c, " ")
	}
	rest = strings.TrimPrefix(trimName(rest), "for ")
	if rest = trimName(rest); rest != "" {
		return rest
	}
	return unnamedService
}

func trimName(s string) string {
	return strings.TrimSpace(strings.Trim(strings.Join(strings.Fields(s), " "), ".,;:-"))
}
