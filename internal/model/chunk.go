package model

import (
	"errors"
	"strings"
)

// ErrAlreadyLabeled is returned when a chunk's content type is assigned twice
var ErrAlreadyLabeled = errors.New("chunk already labeled")

// ContentType is the label the chunk classifier assigns to a chunk
type ContentType string

const (
	ContentProcedureList       ContentType = "procedure_list"
	ContentAuthorizationRule   ContentType = "authorization_rule"
	ContentGeographicException ContentType = "geographic_exception"
	ContentDiagnosisException  ContentType = "diagnosis_exception"
	ContentAgeRestriction      ContentType = "age_restriction"
	ContentOther               ContentType = "other"
	ContentUnlabeled           ContentType = ""
)

// IsException reports whether the label marks an exception-bearing chunk
func (c ContentType) IsException() bool {
	switch c {
	case ContentGeographicException, ContentDiagnosisException, ContentAgeRestriction:
		return true
	default:
		return false
	}
}

// SourceRef points back into the source document
type SourceRef struct {
	Line     int    `json:"line"`               // 1-based first line of the chunk
	EndLine  int    `json:"end_line"`           // 1-based last line of the chunk
	Page     int    `json:"page,omitempty"`     // Page from the last "Page N" marker, 0 if none seen
	Section  string `json:"section,omitempty"`  // Deepest heading in effect
	Category string `json:"category,omitempty"` // Top-level heading in effect
	Offset   int    `json:"offset"`             // Byte offset of the first line
}

// ChunkFlags are derived facts attached after extraction
type ChunkFlags struct {
	ContainsCodeList          bool `json:"contains_code_list"`
	ContainsExceptionLanguage bool `json:"contains_exception_language"`
}

// Chunk is one segment of document text.
// Ordinal and Text never change after segmentation; the label is set exactly once.
type Chunk struct {
	Ordinal      int         `json:"ordinal"`
	Text         string      `json:"text"`
	SectionIndex int         `json:"section_index"` // Increments at every heading boundary
	Heading      bool        `json:"heading,omitempty"`
	Source       SourceRef   `json:"source"`
	Label        ContentType `json:"label"`
	Flags        ChunkFlags  `json:"flags"`
}

// SetLabel assigns the content type. A second call fails.
func (c *Chunk) SetLabel(label ContentType) error {
	if c.Label != ContentUnlabeled {
		return ErrAlreadyLabeled
	}
	c.Label = label
	return nil
}

// Lines returns the chunk text split into its source lines
func (c *Chunk) Lines() []string {
	if c.Text == "" {
		return nil
	}
	return strings.Split(c.Text, "\n")
}
