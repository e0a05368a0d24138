package resolve

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/ppiankov/authrules/internal/extract"
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

const yearsOfAge = `\s*(?:years?\s*(?:of\s+age\s*)?|yrs?\s*)?`

type agePattern struct {
	re    *regexp.Regexp
	build func(a, b int) model.AgePredicate
}

var agePatterns = []agePattern{
	{
		re: regexp.MustCompile(`(?i)\bages?\s+(\d{1,3})\s*(?:to|through|-|–)\s*(\d{1,3})\b`),
		build: func(a, b int) model.AgePredicate {
			return model.AgePredicate{Op: model.AgeBetween, Min: a, Max: b}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(\d{1,3})` + yearsOfAge + `(?:and|or)\s+(?:older|over|above)\b`),
		build: func(a, _ int) model.AgePredicate {
			return model.AgePredicate{Op: model.AgeAtLeast, Min: a}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(\d{1,3})` + yearsOfAge + `(?:and|or)\s+(?:younger|under|below)\b`),
		build: func(a, _ int) model.AgePredicate {
			return model.AgePredicate{Op: model.AgeAtMost, Max: a}
		},
	},
	{
		re: regexp.MustCompile(`\b(\d{1,3})\s*\+`),
		build: func(a, _ int) model.AgePredicate {
			return model.AgePredicate{Op: model.AgeAtLeast, Min: a}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:under|younger\s+than|below)\s+(?:the\s+)?(?:age\s+(?:of\s+)?)?(\d{1,3})\b`),
		build: func(a, _ int) model.AgePredicate {
			return model.AgePredicate{Op: model.AgeLessThan, Max: a}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:over|older\s+than)\s+(?:the\s+)?(?:age\s+(?:of\s+)?)?(\d{1,3})\b`),
		build: func(a, _ int) model.AgePredicate {
			return model.AgePredicate{Op: model.AgeAtLeast, Min: a + 1}
		},
	},
}

type located struct {
	at   int
	pred model.AgePredicate
}

// ParseAges returns the distinct age predicates in text, in text order,
// together with the matched spans. Fixed lookup terms such as "pediatric"
// map to implicit predicates.
func ParseAges(table *patterns.Table, text string) ([]model.AgePredicate, []extract.Span) {
	var found []located
	var spans []extract.Span
	var taken []extract.Span

	for _, p := range agePatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			span := extract.Span{Start: loc[0], End: loc[1]}
			if overlapsAny(span, taken) {
				continue
			}
			a, _ := strconv.Atoi(text[loc[2]:loc[3]])
			b := 0
			if len(loc) > 5 && loc[4] >= 0 {
				b, _ = strconv.Atoi(text[loc[4]:loc[5]])
			}
			pred := p.build(a, b)
			if pred.Op == model.AgeBetween && pred.Min > pred.Max {
				continue
			}
			taken = append(taken, span)
			found = append(found, located{at: loc[0], pred: pred})
		}
	}
	spans = append(spans, taken...)

	for i := range table.AgeTerms {
		term := &table.AgeTerms[i]
		m, ok := term.Find(text)
		if !ok {
			continue
		}
		spans = append(spans, extract.Span{Start: m.Start, End: m.End})
		found = append(found, located{at: m.Start, pred: termPredicate(term)})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].at < found[j].at })

	seen := map[string]bool{}
	var out []model.AgePredicate
	for _, f := range found {
		key := f.pred.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f.pred)
	}
	return out, spans
}

func termPredicate(term *patterns.AgeTerm) model.AgePredicate {
	switch term.Op {
	case "<":
		return model.AgePredicate{Op: model.AgeLessThan, Max: term.Value}
	case "<=":
		return model.AgePredicate{Op: model.AgeAtMost, Max: term.Value}
	default:
		return model.AgePredicate{Op: model.AgeAtLeast, Min: term.Value}
	}
}

func overlapsAny(s extract.Span, spans []extract.Span) bool {
	for _, o := range spans {
		if s.Start < o.End && o.Start < s.End {
			return true
		}
	}
	return false
}
