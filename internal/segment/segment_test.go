package segment

import (
	"testing"

	"github.com/ppiankov/authrules/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSegmenter() *Segmenter {
	return New(model.DefaultConfig().Segmenter)
}

func texts(chunks []model.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestSegmentEmptyInput(t *testing.T) {
	chunks := newSegmenter().Segment("")
	require.NotNil(t, chunks)
	assert.Empty(t, chunks)

	assert.Empty(t, newSegmenter().Segment("\n\n   \n"))
}

func TestSegmentSingleLine(t *testing.T) {
	chunks := newSegmenter().Segment("Arthroplasty Prior authorization required. 23470 23472 23473")
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Ordinal)
	assert.Equal(t, model.ContentUnlabeled, chunks[0].Label)
	assert.Equal(t, 1, chunks[0].Source.Line)
}

func TestSegmentSplitsAtHeadingsAndParagraphs(t *testing.T) {
	doc := `# ORTHOPEDICS

## Arthroscopy
Prior authorization is required for the following codes.
29805
29806

Except in Texas.
## Arthroplasty
23470`

	chunks := newSegmenter().Segment(doc)
	assert.Equal(t, []string{
		"ORTHOPEDICS",
		"Arthroscopy",
		"Prior authorization is required for the following codes.",
		"29805\n29806",
		"Except in Texas.",
		"Arthroplasty",
		"23470",
	}, texts(chunks))

	assert.True(t, chunks[1].Heading)
	assert.Equal(t, "Arthroscopy", chunks[2].Source.Section)
	assert.Equal(t, "ORTHOPEDICS", chunks[2].Source.Category)
	assert.Equal(t, chunks[2].SectionIndex, chunks[4].SectionIndex)
	assert.NotEqual(t, chunks[4].SectionIndex, chunks[6].SectionIndex)
	assert.Equal(t, "Arthroplasty", chunks[6].Source.Section)
	assert.Equal(t, 5, chunks[3].Source.Line)
	assert.Equal(t, 6, chunks[3].Source.EndLine)

	for i, c := range chunks {
		assert.Equal(t, i+1, c.Ordinal)
	}
}

func TestSegmentTableRows(t *testing.T) {
	doc := `**Codes**
| Code | Description |
|------|-------------|
| 23470 | Arthroplasty |
| 23472 | Total shoulder |`

	chunks := newSegmenter().Segment(doc)
	assert.Equal(t, []string{"Codes", "Code Description", "23470 Arthroplasty\n23472 Total shoulder"}, texts(chunks))
}

func TestSegmentPageMarkers(t *testing.T) {
	doc := "Page 3\nPrior authorization required.\n\nPage 4\n23470 23472"
	chunks := newSegmenter().Segment(doc)
	require.Len(t, chunks, 2)
	assert.Equal(t, 3, chunks[0].Source.Page)
	assert.Equal(t, 4, chunks[1].Source.Page)
	assert.Equal(t, 2, chunks[0].Source.Line)
	assert.Equal(t, len("Page 3\n"), chunks[0].Source.Offset)
}

func TestSegmentHeadingWithCodes(t *testing.T) {
	chunks := newSegmenter().Segment("## 23470 Arthroplasty\nPrior authorization required.")
	require.Len(t, chunks, 2)
	assert.True(t, chunks[0].Heading)
	assert.Equal(t, "23470 Arthroplasty", chunks[0].Text)
}

func TestSegmentCapsSentenceIsNotHeading(t *testing.T) {
	chunks := newSegmenter().Segment("NOT REQUIRED FOR THE FOLLOWING DIAGNOSIS CODES:\nC50.011")
	require.Len(t, chunks, 1)
	assert.False(t, chunks[0].Heading)
}

func TestSegmentLeadInJoinsCodeBlock(t *testing.T) {
	doc := `## Breast reconstruction
Prior authorization required.

CPT Codes:
15771, 19300, 19316, 19318
19325, 19328, 19330, 19340

Notification/prior authorization NOT required for diagnosis codes:
C50.019, C50.011, C50.012, C50.111
See the provider manual.`

	chunks := newSegmenter().Segment(doc)
	assert.Equal(t, []string{
		"Breast reconstruction",
		"Prior authorization required.",
		"CPT Codes:\n15771, 19300, 19316, 19318\n19325, 19328, 19330, 19340",
		"Notification/prior authorization NOT required for diagnosis codes:\nC50.019, C50.011, C50.012, C50.111",
		"See the provider manual.",
	}, texts(chunks))
	assert.Equal(t, 4, chunks[2].Source.Line)
	assert.Equal(t, 6, chunks[2].Source.EndLine)

	// A lead-in that ends a sentence does not pull in the codes after it
	chunks = newSegmenter().Segment("Prior authorization is required for the following codes.\n29805 29806")
	assert.Equal(t, []string{"Prior authorization is required for the following codes.", "29805 29806"}, texts(chunks))
}

func TestSegmentIsDeterministic(t *testing.T) {
	doc := "# A\ntext 23470\n\n23472 23473\n# B\nmore"
	assert.Equal(t, newSegmenter().Segment(doc), newSegmenter().Segment(doc))
}
