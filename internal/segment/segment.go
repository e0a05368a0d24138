// Package segment splits document text into ordered chunks along
// structural boundaries: headings, table blocks and paragraph breaks.
package segment

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ppiankov/authrules/internal/extract"
	"github.com/ppiankov/authrules/internal/model"
)

var (
	markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*$`)
	boldHeading     = regexp.MustCompile(`^\*\*([^*]+)\*\*:?$`)
	pageMarker      = regexp.MustCompile(`(?i)^(?:-+\s*)?page\s+(\d{1,4})(?:\s+of\s+\d{1,4})?(?:\s*-+)?$`)
	tableSeparator  = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(?:\|\s*:?-{3,}:?\s*)*\|?$`)
)

const (
	boldLevel      = 7 // Bold lines nest below every markdown level
	capsLevel      = 1 // ALL-CAPS lines are top-level category headers
	capsMinLetters = 6
	capsMaxWords   = 10
)

// Segmenter is deterministic and holds no per-document state
type Segmenter struct {
	cfg model.SegmenterConfig
}

// New creates a segmenter
func New(cfg model.SegmenterConfig) *Segmenter {
	if cfg.BlankLineThreshold < 1 {
		cfg.BlankLineThreshold = 1
	}
	return &Segmenter{cfg: cfg}
}

type heading struct {
	level int
	title string
}

// run holds the state of one Segment call
type run struct {
	cfg    model.SegmenterConfig
	chunks []model.Chunk

	lines     []string
	startLine int
	endLine   int
	offset    int
	page      int
	startPage int
	table     bool

	blanks  int
	stack   []heading
	section int
}

// Segment splits text into chunks. Empty input yields an empty slice.
func (s *Segmenter) Segment(text string) []model.Chunk {
	r := &run{cfg: s.cfg, chunks: []model.Chunk{}}
	offset := 0
	for i, raw := range strings.Split(text, "\n") {
		r.line(i+1, offset, strings.TrimRight(raw, "\r"))
		offset += len(raw) + 1
	}
	r.flush()
	return r.chunks
}

func (r *run) line(number, offset int, raw string) {
	trimmed := strings.TrimSpace(raw)

	if trimmed == "" {
		r.blanks++
		if r.blanks >= r.cfg.BlankLineThreshold {
			r.flush()
		}
		return
	}
	r.blanks = 0

	if m := pageMarker.FindStringSubmatch(trimmed); m != nil {
		r.page, _ = strconv.Atoi(m[1])
		return
	}
	if tableSeparator.MatchString(trimmed) {
		return
	}

	pipeRow := strings.HasPrefix(trimmed, "|")
	content := stripTableRow(trimmed)
	if content == "" {
		return
	}

	// A heading closes the open chunk and is kept as its own chunk
	if level, title, ok := detectHeading(content); ok {
		r.flush()
		r.push(level, title)
		r.start(number, offset, false)
		r.lines = append(r.lines, title)
		r.endLine = number
		r.emit(true)
		return
	}

	table := r.tableLike(content, pipeRow)
	switch {
	case len(r.lines) > 0 && table && !r.table && r.leadIn():
		// "Not required for these diagnosis codes:" stays with its codes
		r.table = true
	case len(r.lines) > 0 && table != r.table:
		r.flush()
	}
	if len(r.lines) == 0 {
		r.start(number, offset, table)
	}
	r.lines = append(r.lines, content)
	r.endLine = number
}

// leadIn reports whether the open prose chunk ends in a line that
// introduces a list
func (r *run) leadIn() bool {
	return strings.HasSuffix(r.lines[len(r.lines)-1], ":")
}

func (r *run) start(number, offset int, table bool) {
	r.startLine = number
	r.offset = offset
	r.startPage = r.page
	r.table = table
}

func (r *run) push(level int, title string) {
	for len(r.stack) > 0 && r.stack[len(r.stack)-1].level >= level {
		r.stack = r.stack[:len(r.stack)-1]
	}
	r.stack = append(r.stack, heading{level: level, title: title})
	r.section++
}

func (r *run) flush() {
	if len(r.lines) == 0 {
		return
	}
	r.emit(false)
}

func (r *run) emit(isHeading bool) {
	ref := model.SourceRef{
		Line:    r.startLine,
		EndLine: r.endLine,
		Page:    r.startPage,
		Offset:  r.offset,
	}
	if len(r.stack) > 0 {
		ref.Section = r.stack[len(r.stack)-1].title
		ref.Category = r.stack[0].title
	}
	r.chunks = append(r.chunks, model.Chunk{
		Ordinal:      len(r.chunks) + 1,
		Text:         strings.Join(r.lines, "\n"),
		SectionIndex: r.section,
		Heading:      isHeading,
		Source:       ref,
	})
	r.lines = nil
}

// tableLike reports whether a line belongs to a code table: a markdown
// row carrying a code, or a plain line dominated by code tokens
func (r *run) tableLike(content string, pipeRow bool) bool {
	tokens := extract.Tokenize(content)
	if len(tokens) == 0 {
		return false
	}
	codes := 0
	for _, tok := range tokens {
		if _, ok := model.ClassifyToken(tok.Text); ok {
			codes++
		}
	}
	if pipeRow {
		return codes > 0
	}
	return codes > 0 && float64(codes)/float64(len(tokens)) >= r.cfg.TableTokenRatio
}

// stripTableRow turns "| a | b |" into "a b"
func stripTableRow(line string) string {
	if !strings.HasPrefix(line, "|") {
		return line
	}
	cells := strings.Split(strings.Trim(line, "|"), "|")
	parts := make([]string, 0, len(cells))
	for _, cell := range cells {
		if cell = strings.TrimSpace(cell); cell != "" {
			parts = append(parts, cell)
		}
	}
	return strings.Join(parts, " ")
}

// detectHeading recognizes markdown, bold and ALL-CAPS heading lines
func detectHeading(line string) (int, string, bool) {
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		return len(m[1]), strings.Trim(m[2], "* "), true
	}
	if m := boldHeading.FindStringSubmatch(line); m != nil {
		return boldLevel, strings.TrimSpace(m[1]), true
	}
	if isCapsHeading(line) {
		return capsLevel, line, true
	}
	return 0, "", false
}

func isCapsHeading(line string) bool {
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ":") || len(strings.Fields(line)) > capsMaxWords {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= capsMinLetters && extract.Codes(line).Len() == 0
}
