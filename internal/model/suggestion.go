package model

// Suggestion is a semantic reviewer's advisory reading of one needs-review
// item. It is stored next to the report and never changes a Rule.
type Suggestion struct {
	DocumentID      string       `json:"document_id" db:"document_id"`
	Ordinal         int          `json:"ordinal" db:"ordinal"`
	Reason          ReviewReason `json:"reason" db:"reason"`
	Label           ContentType  `json:"label,omitempty" db:"label"`
	AuthRequirement AuthState    `json:"auth_requirement,omitempty" db:"auth_requirement"`
	Codes           []string     `json:"codes,omitempty" db:"-"`
	Rationale       string       `json:"rationale" db:"rationale"`
	Provider        string       `json:"provider" db:"provider"`
	Model           string       `json:"model" db:"model"`
	TokensUsed      int          `json:"tokens_used" db:"tokens_used"`
}
