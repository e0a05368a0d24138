package model

// AuthState is the authorization requirement attached to a Rule
type AuthState string

const (
	AuthRequired         AuthState = "REQUIRED"
	AuthConditional      AuthState = "CONDITIONAL"
	AuthNotRequired      AuthState = "NOT_REQUIRED"
	AuthNotificationOnly AuthState = "NOTIFICATION_ONLY"
)

// Restrictiveness orders states for picking the strictest applicable rule
func (s AuthState) Restrictiveness() int {
	switch s {
	case AuthRequired:
		return 3
	case AuthConditional:
		return 2
	case AuthNotificationOnly:
		return 1
	default:
		return 0
	}
}

// AuthDecision is the output of the authorization classifier for one piece of text
type AuthDecision struct {
	State       AuthState `json:"state"`
	Cue         string    `json:"cue,omitempty"`        // Matched cue phrase, empty for the default
	Unambiguous bool      `json:"unambiguous"`          // A rule 1-3 cue decided the state
	Overridden  bool      `json:"overridden,omitempty"` // A conditional connector downgraded a cue
	Connector   string    `json:"connector,omitempty"`
}

// Defaulted reports whether no cue was recognized
func (d AuthDecision) Defaulted() bool {
	return d.Cue == "" && !d.Overridden
}

// PlaceOfService is a site-of-care condition found next to a rule's codes
type PlaceOfService struct {
	Code         string `json:"code"` // CMS POS code, "*" for site-of-service review
	Description  string `json:"description"`
	RequiresAuth bool   `json:"requires_auth"`
	ReviewType   string `json:"review_type,omitempty"`
}

// Rule is one assembled authorization rule. Immutable once assembled.
type Rule struct {
	ID              string            `json:"id"`
	Service         string            `json:"service"`
	Category        string            `json:"category"`
	AuthRequirement AuthState         `json:"auth_requirement"`
	CPTCodes        CodeSet           `json:"cpt_codes"`
	ICDCodes        CodeSet           `json:"icd_codes"`
	Exceptions      []ExceptionClause `json:"exceptions"`
	Confidence      float64           `json:"confidence_score"`
	SourceRefs      []int             `json:"source_refs"`
	PlaceOfService  []PlaceOfService  `json:"place_of_service,omitempty"`
	Signals         []Signal          `json:"signals,omitempty"`
}

// ExceptionRecord is the flat form of an exception clause
type ExceptionRecord struct {
	Kind     ExceptionKind `json:"kind"`
	Polarity Polarity      `json:"polarity"`
	Scope    []string      `json:"scope"`
}

// RuleRecord is the flat serialized form of a Rule
type RuleRecord struct {
	ID              string            `json:"id"`
	Service         string            `json:"service"`
	Category        string            `json:"category"`
	AuthRequirement string            `json:"auth_requirement"`
	CPTCodes        []string          `json:"cpt_codes"`
	ICDCodes        []string          `json:"icd_codes"`
	Exceptions      []ExceptionRecord `json:"exceptions"`
	Confidence      float64           `json:"confidence_score"`
	SourceRefs      []int             `json:"source_refs"`
}

// Record flattens the rule into its output record
func (r *Rule) Record() RuleRecord {
	exceptions := make([]ExceptionRecord, 0, len(r.Exceptions))
	for _, e := range r.Exceptions {
		exceptions = append(exceptions, ExceptionRecord{
			Kind:     e.Kind,
			Polarity: e.Polarity,
			Scope:    append([]string{}, e.Scope...),
		})
	}
	return RuleRecord{
		ID:              r.ID,
		Service:         r.Service,
		Category:        r.Category,
		AuthRequirement: string(r.AuthRequirement),
		CPTCodes:        r.CPTCodes.Values(),
		ICDCodes:        r.ICDCodes.Values(),
		Exceptions:      exceptions,
		Confidence:      r.Confidence,
		SourceRefs:      append([]int{}, r.SourceRefs...),
	}
}

// Clause converts a flat exception record back into a clause
func (e ExceptionRecord) Clause() ExceptionClause {
	return ExceptionClause{Kind: e.Kind, Polarity: e.Polarity, Scope: append([]string{}, e.Scope...)}
}

// Rule rebuilds a Rule from its flat record
func (r RuleRecord) Rule() Rule {
	rule := Rule{
		ID:              r.ID,
		Service:         r.Service,
		Category:        r.Category,
		AuthRequirement: AuthState(r.AuthRequirement),
		Confidence:      r.Confidence,
		SourceRefs:      append([]int{}, r.SourceRefs...),
	}
	for _, v := range r.CPTCodes {
		kind, _ := ClassifyToken(v)
		rule.CPTCodes.Add(Code{Value: v, Kind: kind})
	}
	for _, v := range r.ICDCodes {
		rule.ICDCodes.Add(Code{Value: v, Kind: CodeKindDiagnosis})
	}
	for _, e := range r.Exceptions {
		rule.Exceptions = append(rule.Exceptions, e.Clause())
	}
	return rule
}
