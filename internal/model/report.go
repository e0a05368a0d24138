package model

// Report is the complete result of processing one document.
// It carries no timestamps so that identical input renders identical output.
type Report struct {
	Source string       `json:"source,omitempty"` // File path or URL the text came from
	Payer  string       `json:"payer,omitempty"`  // Issuing payer, when identified
	Rules  []Rule       `json:"rules"`            // Assembled rules in document order
	Review []ReviewItem `json:"review"`           // Needs-review channel contents
	Audit  Audit        `json:"audit"`            // Extraction completeness counts

	Chunks []ChunkSummary `json:"chunks,omitempty"` // Per-chunk labels, only with output.include_chunks
}

// Records returns the flat output records of every rule
func (r *Report) Records() []RuleRecord {
	records := make([]RuleRecord, 0, len(r.Rules))
	for i := range r.Rules {
		records = append(records, r.Rules[i].Record())
	}
	return records
}

// ReviewReason says why a chunk went to the needs-review channel
type ReviewReason string

const (
	ReviewLowConfidence          ReviewReason = "low_confidence"
	ReviewUnresolvedPolarity     ReviewReason = "unresolved_polarity"
	ReviewEmptyScope             ReviewReason = "empty_scope"
	ReviewUnparseableAge         ReviewReason = "unparseable_age"
	ReviewCodeRange              ReviewReason = "code_range"
	ReviewAmbiguousAuthorization ReviewReason = "ambiguous_authorization"
	ReviewComplexNarrative       ReviewReason = "complex_narrative"
)

// ReviewItem is one escalation to semantic review
type ReviewItem struct {
	Ordinal    int          `json:"ordinal"` // Chunk position
	Text       string       `json:"text"`
	Reason     ReviewReason `json:"reason"`
	Detail     string       `json:"detail,omitempty"`
	Label      ContentType  `json:"label"`
	Confidence float64      `json:"confidence"`
	Source     SourceRef    `json:"source"`
}

// Audit summarizes extraction completeness for a human reviewer
type Audit struct {
	Chunks             int                 `json:"chunks"`
	LabelCounts        map[ContentType]int `json:"label_counts"`
	RulesProduced      int                 `json:"rules_produced"`
	FlaggedForReview   int                 `json:"flagged_for_review"`
	UnclassifiedChunks []int               `json:"unclassified_chunks"` // Ordinals labeled other
	UnattachedChunks   []int               `json:"unattached_chunks"`   // Exception chunks with no rule to attach to
	UnresolvedChunks   []int               `json:"unresolved_chunks"`   // Exception chunks that produced no clause
}

// ChunkSummary is the audit view of one chunk
type ChunkSummary struct {
	Ordinal    int         `json:"ordinal"`
	Label      ContentType `json:"label"`
	Confidence float64     `json:"confidence"`
	Cue        string      `json:"cue,omitempty"`
	Codes      []string    `json:"codes,omitempty"`
	Source     SourceRef   `json:"source"`
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType             `json:"type"`           // Signal classification
	Severity    SignalSeverity         `json:"severity"`       // info, warning, critical
	Description string                 `json:"description"`    // Human-readable description
	Data        map[string]interface{} `json:"data,omitempty"` // Transparent scoring data (formulas, inputs)
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalPatternCoverage      SignalType = "pattern_coverage"      // Matched tokens vs total tokens
	SignalAuthorizationCue     SignalType = "authorization_cue"     // Unambiguous cue present
	SignalConditionalDowngrade SignalType = "conditional_downgrade" // Connector overrode a clear cue
	SignalDefaultState         SignalType = "default_state"         // No cue, conservative default
	SignalUnresolved           SignalType = "unresolved_exception"
	SignalCodeRange            SignalType = "code_range"
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)
