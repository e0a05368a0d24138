package classify

import (
	"strings"

	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

// AuthRule is one rung of the authorization precedence ladder
type AuthRule struct {
	State model.AuthState
	Cues  patterns.CueList
}

// AuthClassifier decides the authorization state of text.
// Precedence: REQUIRED, then NOTIFICATION_ONLY, then NOT_REQUIRED; a
// conditional connector next to any of those downgrades to CONDITIONAL
// when the override is enabled; no cue at all defaults to CONDITIONAL.
type AuthClassifier struct {
	rules      []AuthRule
	connectors patterns.CueList
	override   bool
}

// NewAuthClassifier creates an authorization classifier
func NewAuthClassifier(cfg model.AuthorizationConfig, table *patterns.Table) *AuthClassifier {
	return &AuthClassifier{
		rules: []AuthRule{
			{State: model.AuthRequired, Cues: table.Authorization.Required},
			{State: model.AuthNotificationOnly, Cues: table.Authorization.NotificationOnly},
			{State: model.AuthNotRequired, Cues: table.Authorization.NotRequired},
		},
		connectors: table.Authorization.Connectors,
		override:   cfg.ConditionalOverride,
	}
}

// Cue returns the first authorization cue in text by precedence
func (a *AuthClassifier) Cue(text string) (model.AuthState, patterns.Match, bool) {
	for _, rule := range a.rules {
		if m, ok := rule.Cues.First(text); ok {
			return rule.State, m, true
		}
	}
	return "", patterns.Match{}, false
}

// Classify decides the state of a whole chunk
func (a *AuthClassifier) Classify(text string) model.AuthDecision {
	return a.ClassifyLine(text, text)
}

// ClassifyLine decides the state of one line. Cues come from the line;
// conditional connectors are looked up across scope, normally the whole chunk.
func (a *AuthClassifier) ClassifyLine(line, scope string) model.AuthDecision {
	state, m, ok := a.Cue(line)
	if !ok {
		return model.AuthDecision{State: model.AuthConditional}
	}

	decision := model.AuthDecision{
		State:       state,
		Cue:         strings.ToLower(m.Text),
		Unambiguous: true,
	}
	if conn, found := a.connectors.First(scope); found {
		decision.Connector = strings.ToLower(conn.Text)
		if a.override {
			decision.State = model.AuthConditional
			decision.Unambiguous = false
			decision.Overridden = true
		}
	}
	return decision
}

// HasCue reports whether text carries any authorization cue
func (a *AuthClassifier) HasCue(text string) bool {
	_, _, ok := a.Cue(text)
	return ok
}

// Matches returns every authorization cue and connector match in text
func (a *AuthClassifier) Matches(text string) []patterns.Match {
	var out []patterns.Match
	for _, rule := range a.rules {
		out = append(out, rule.Cues.All(text)...)
	}
	return append(out, a.connectors.All(text)...)
}
