package extract

import (
	"regexp"
	"sort"
	"strings"
)

// StateMention is one state or territory found in text
type StateMention struct {
	Code  string
	Start int
	End   int
}

var stateNames = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "florida": "FL", "georgia": "GA",
	"hawaii": "HI", "idaho": "ID", "illinois": "IL", "indiana": "IN", "iowa": "IA",
	"kansas": "KS", "kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS", "missouri": "MO",
	"montana": "MT", "nebraska": "NE", "nevada": "NV", "new hampshire": "NH", "new jersey": "NJ",
	"new mexico": "NM", "new york": "NY", "north carolina": "NC", "north dakota": "ND", "ohio": "OH",
	"oklahoma": "OK", "oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT",
	"virginia": "VA", "washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
	"district of columbia": "DC", "puerto rico": "PR", "virgin islands": "VI", "guam": "GU",
	"american samoa": "AS", "northern mariana islands": "MP",
}

// Abbreviations that are also common English words or prefixes.
// They count only when adjacent to another state mention.
var ambiguousAbbreviations = map[string]bool{
	"IN": true, "OR": true, "ME": true, "OK": true, "PA": true,
	"HI": true, "OH": true, "AS": true, "DE": true,
}

var (
	stateAbbreviations = func() map[string]bool {
		out := make(map[string]bool, len(stateNames))
		for _, code := range stateNames {
			out[code] = true
		}
		return out
	}()

	// Longest names first so "west virginia" wins over "virginia"
	stateNamePattern = func() *regexp.Regexp {
		names := make([]string, 0, len(stateNames))
		for name := range stateNames {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if len(names[i]) != len(names[j]) {
				return len(names[i]) > len(names[j])
			}
			return names[i] < names[j]
		})
		quoted := make([]string, len(names))
		for i, name := range names {
			quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(name), " ", `\s+`)
		}
		return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}()

	listGap = regexp.MustCompile(`(?i)^[\s,;/&]*(?:(?:and|or|the)\b[\s,;/&]*)*$`)
	spaces  = regexp.MustCompile(`\s+`)
)

// IsStateCode reports whether code is a known two-letter state or territory code
func IsStateCode(code string) bool {
	return stateAbbreviations[code]
}

// StateMentions finds full state names and exact uppercase abbreviations in text.
// Callers restrict this to exception-bearing chunks.
func StateMentions(text string) []StateMention {
	var candidates []StateMention
	var covered []Span

	for _, loc := range stateNamePattern.FindAllStringIndex(text, -1) {
		name := strings.ToLower(spaces.ReplaceAllString(text[loc[0]:loc[1]], " "))
		candidates = append(candidates, StateMention{Code: stateNames[name], Start: loc[0], End: loc[1]})
		covered = append(covered, Span{Start: loc[0], End: loc[1]})
	}

	for _, tok := range Tokenize(text) {
		if !stateAbbreviations[tok.Text] || insideAny(tok, covered) {
			continue
		}
		candidates = append(candidates, StateMention{Code: tok.Text, Start: tok.Start, End: tok.End})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start < candidates[j].Start })

	out := make([]StateMention, 0, len(candidates))
	for i, m := range candidates {
		if ambiguousAbbreviations[m.Code] && m.End-m.Start == 2 && !adjacentMention(text, candidates, i) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// States returns the distinct state codes in text, in first-seen order
func States(text string) []string {
	return uniqueCodes(StateMentions(text))
}

// StatesAfter returns the distinct state codes mentioned at or after offset
func StatesAfter(text string, offset int) []string {
	var after []StateMention
	for _, m := range StateMentions(text) {
		if m.Start >= offset {
			after = append(after, m)
		}
	}
	return uniqueCodes(after)
}

func uniqueCodes(mentions []StateMention) []string {
	seen := make(map[string]bool, len(mentions))
	var out []string
	for _, m := range mentions {
		if seen[m.Code] {
			continue
		}
		seen[m.Code] = true
		out = append(out, m.Code)
	}
	return out
}

func adjacentMention(text string, mentions []StateMention, i int) bool {
	if i > 0 && listGap.MatchString(text[mentions[i-1].End:mentions[i].Start]) {
		return true
	}
	if i+1 < len(mentions) && listGap.MatchString(text[mentions[i].End:mentions[i+1].Start]) {
		return true
	}
	return false
}

func insideAny(tok Token, spans []Span) bool {
	for _, s := range spans {
		if tok.Overlaps(s) {
			return true
		}
	}
	return false
}
