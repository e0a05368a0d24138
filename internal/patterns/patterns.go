// Package patterns loads the cue phrase tables that drive classification,
// polarity detection, age parsing and place-of-service extraction.
package patterns

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTable is returned when a pattern table cannot be used.
// It is fatal for document processing.
var ErrInvalidTable = errors.New("invalid pattern table")

//go:embed default.yaml
var defaultTable []byte

// negationWindow is how far before a match a negation word is looked for
const negationWindow = 24

// negation must reach the cue within one clause; a comma ends the clause
var negation = regexp.MustCompile(`(?i)(?:\b(?:not|no|never)\b|n't\b)[^.;:,]*$`)

// Cue is one compiled phrase pattern
type Cue struct {
	Pattern   string `yaml:"pattern"`
	Negatable bool   `yaml:"negatable"` // Skip matches preceded by a negation word
	Unless    string `yaml:"unless"`    // Text matching this disables the cue entirely

	re     *regexp.Regexp
	unless *regexp.Regexp
}

// Match is a located cue match
type Match struct {
	Text  string
	Start int
	End   int
}

// Find returns the first non-negated match of the cue in text
func (c *Cue) Find(text string) (Match, bool) {
	if c.unless != nil && c.unless.MatchString(text) {
		return Match{}, false
	}
	for _, loc := range c.re.FindAllStringIndex(text, -1) {
		if c.Negatable && negated(text, loc[0]) {
			continue
		}
		return Match{Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]}, true
	}
	return Match{}, false
}

// FindAll returns every non-negated match of the cue in text
func (c *Cue) FindAll(text string) []Match {
	if c.unless != nil && c.unless.MatchString(text) {
		return nil
	}
	var out []Match
	for _, loc := range c.re.FindAllStringIndex(text, -1) {
		if c.Negatable && negated(text, loc[0]) {
			continue
		}
		out = append(out, Match{Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
	}
	return out
}

func negated(text string, at int) bool {
	from := at - negationWindow
	if from < 0 {
		from = 0
	}
	return negation.MatchString(text[from:at])
}

func (c *Cue) compile() error {
	re, err := regexp.Compile("(?i)" + c.Pattern)
	if err != nil {
		return fmt.Errorf("%w: pattern %q: %v", ErrInvalidTable, c.Pattern, err)
	}
	c.re = re
	if c.Unless != "" {
		unless, err := regexp.Compile("(?i)" + c.Unless)
		if err != nil {
			return fmt.Errorf("%w: unless %q: %v", ErrInvalidTable, c.Unless, err)
		}
		c.unless = unless
	}
	return nil
}

// CueList is an ordered list of cues
type CueList []Cue

// First returns the first cue in list order that matches text
func (l CueList) First(text string) (Match, bool) {
	for i := range l {
		if m, ok := l[i].Find(text); ok {
			return m, true
		}
	}
	return Match{}, false
}

// All returns every match of every cue
func (l CueList) All(text string) []Match {
	var out []Match
	for i := range l {
		out = append(out, l[i].FindAll(text)...)
	}
	return out
}

// Any reports whether any cue matches
func (l CueList) Any(text string) bool {
	_, ok := l.First(text)
	return ok
}

// ContentCues are the chunk classifier cue families
type ContentCues struct {
	Geographic CueList `yaml:"geographic"`
	Diagnosis  CueList `yaml:"diagnosis"`
	Age        CueList `yaml:"age"`
}

// AuthorizationCues are the authorization classifier cue lists
type AuthorizationCues struct {
	Required         CueList `yaml:"required"`
	NotificationOnly CueList `yaml:"notification_only"`
	NotRequired      CueList `yaml:"not_required"`
	Connectors       CueList `yaml:"connectors"`
}

// All returns the state cues in precedence order, connectors excluded
func (a AuthorizationCues) All() CueList {
	out := make(CueList, 0, len(a.Required)+len(a.NotificationOnly)+len(a.NotRequired))
	out = append(out, a.Required...)
	out = append(out, a.NotificationOnly...)
	out = append(out, a.NotRequired...)
	return out
}

// PolarityCues hold the exclusion and inclusion phrases
type PolarityCues struct {
	Exclude CueList `yaml:"exclude"`
	Include CueList `yaml:"include"`
}

// AgeTerm maps a word such as "pediatric" to an implicit predicate
type AgeTerm struct {
	Term  string `yaml:"term"`
	Op    string `yaml:"op"`
	Value int    `yaml:"value"`

	re *regexp.Regexp
}

// Find reports whether the term appears as a whole word in text
func (a *AgeTerm) Find(text string) (Match, bool) {
	loc := a.re.FindStringIndex(text)
	if loc == nil {
		return Match{}, false
	}
	return Match{Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]}, true
}

// PlaceOfServiceCue maps a phrase to a place-of-service condition
type PlaceOfServiceCue struct {
	Cue          `yaml:",inline"`
	Code         string `yaml:"code"`
	Description  string `yaml:"description"`
	RequiresAuth bool   `yaml:"requires_auth"`
	ReviewType   string `yaml:"review_type"`
}

// Table is a compiled, read-only pattern table. Safe for concurrent use.
type Table struct {
	Version        int                 `yaml:"version"`
	Content        ContentCues         `yaml:"content"`
	Authorization  AuthorizationCues   `yaml:"authorization"`
	Polarity       PolarityCues        `yaml:"polarity"`
	AgeTerms       []AgeTerm           `yaml:"age_terms"`
	Narrative      CueList             `yaml:"narrative"`
	PlaceOfService []PlaceOfServiceCue `yaml:"place_of_service"`

	fingerprint string
}

// Fingerprint identifies the table contents for cache keys
func (t *Table) Fingerprint() string {
	return t.fingerprint
}

// Default returns the built-in table
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// MustDefault returns the built-in table and panics if it is broken
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads a table from path, or the built-in table when path is empty
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidTable, path, err)
	}
	return Parse(data)
}

// Parse decodes and compiles a YAML table
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	t.fingerprint = hex.EncodeToString(sum[:])
	return &t, nil
}

func (t *Table) compile() error {
	required := map[string]CueList{
		"content.geographic":              t.Content.Geographic,
		"content.diagnosis":               t.Content.Diagnosis,
		"content.age":                     t.Content.Age,
		"authorization.required":          t.Authorization.Required,
		"authorization.notification_only": t.Authorization.NotificationOnly,
		"authorization.not_required":      t.Authorization.NotRequired,
		"authorization.connectors":        t.Authorization.Connectors,
		"polarity.exclude":                t.Polarity.Exclude,
		"polarity.include":                t.Polarity.Include,
	}
	for name, list := range required {
		if len(list) == 0 {
			return fmt.Errorf("%w: section %s is empty", ErrInvalidTable, name)
		}
	}

	lists := []CueList{
		t.Content.Geographic, t.Content.Diagnosis, t.Content.Age,
		t.Authorization.Required, t.Authorization.NotificationOnly,
		t.Authorization.NotRequired, t.Authorization.Connectors,
		t.Polarity.Exclude, t.Polarity.Include, t.Narrative,
	}
	for _, list := range lists {
		for i := range list {
			if err := list[i].compile(); err != nil {
				return err
			}
		}
	}

	for i := range t.PlaceOfService {
		if err := t.PlaceOfService[i].compile(); err != nil {
			return err
		}
	}

	for i := range t.AgeTerms {
		term := &t.AgeTerms[i]
		switch term.Op {
		case "<", "<=", ">=":
		default:
			return fmt.Errorf("%w: age term %q has unknown op %q", ErrInvalidTable, term.Term, term.Op)
		}
		term.re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(term.Term)) + `\b`)
	}
	return nil
}
