package model

// LineAuth is the authorization state found for a group of code lines
// inside a single chunk
type LineAuth struct {
	Codes CodeSet      `json:"codes"`
	Auth  AuthDecision `json:"auth"`
	Own   bool         `json:"own"` // The group's lines carried their own cue
}

// Coverage counts pattern-matched tokens in a chunk
type Coverage struct {
	Matched int `json:"matched"`
	Total   int `json:"total"`
}

// Ratio returns matched/total, 0 for an empty chunk
func (c Coverage) Ratio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Matched) / float64(c.Total)
}

// Add combines two coverage counts
func (c Coverage) Add(other Coverage) Coverage {
	return Coverage{Matched: c.Matched + other.Matched, Total: c.Total + other.Total}
}

// AnnotatedChunk is a labeled chunk plus everything derived from it.
// The embedded Chunk is never modified after labeling.
type AnnotatedChunk struct {
	Chunk

	Confidence float64          `json:"confidence"`                 // Classification confidence
	Cue        string           `json:"cue,omitempty"`
	Codes      CodeSet          `json:"codes"`                      // Every code token, all kinds
	Procedures CodeSet          `json:"procedures"`                 // Procedure subset
	Diagnoses  CodeSet          `json:"diagnoses"`                  // Diagnosis subset
	States     []string         `json:"states,omitempty"`
	Auth       *AuthDecision    `json:"auth,omitempty"`             // Whole-chunk authorization decision, nil without any cue
	Lines      []LineAuth       `json:"lines,omitempty"`            // Per-line state groups of code-bearing lines
	Exception  *ExceptionClause `json:"exception,omitempty"`
	Unresolved ReviewReason     `json:"unresolved,omitempty"`       // Why an exception chunk produced no clause
	Detail     string           `json:"detail,omitempty"`
	POS        []PlaceOfService `json:"place_of_service,omitempty"`
	Coverage   Coverage         `json:"coverage"`
	Narrative  bool             `json:"narrative,omitempty"`        // Complex narrative indicator matched
}

// HasProcedures reports whether the chunk carries procedure codes
func (a *AnnotatedChunk) HasProcedures() bool {
	return a.Procedures.Len() > 0
}
