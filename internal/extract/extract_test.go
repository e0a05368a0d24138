package extract

import (
	"testing"

	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenTexts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Text
	}
	return out
}

func TestTokenizeTrimsPunctuation(t *testing.T) {
	tokens := Tokenize("Prior authorization required. 23470, 23472; (C50.019).")
	assert.Equal(t, []string{"Prior", "authorization", "required", "23470", "23472", "C50.019"}, tokenTexts(tokens))

	assert.Equal(t, "C50.019", "Prior authorization required. 23470, 23472; (C50.019)."[tokens[5].Start:tokens[5].End])
}

func TestTokenizeKeepsRangesWhole(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"hyphen", "29805-29825", []string{"29805-29825"}},
		{"spaced", "codes 29805 - 29825 apply", []string{"codes", "29805-29825", "apply"}},
		{"en dash", "29805–29825", []string{"29805-29825"}},
		{"alphanumeric", "E0100-E0105", []string{"E0100-E0105"}},
		{"age range", "ages 5-12", []string{"ages", "5", "12"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenTexts(Tokenize(tt.text)))
		})
	}
}

func TestTokenizeMarkdownTable(t *testing.T) {
	tokens := Tokenize("| **23470** | Arthroplasty, glenohumeral joint |")
	assert.Equal(t, []string{"23470", "Arthroplasty", "glenohumeral", "joint"}, tokenTexts(tokens))
}

func TestCodesPriorityAndOrder(t *testing.T) {
	set := Codes("J1234 then 23470, C50.011 and 23470 again, 29805-29825")
	assert.Equal(t, []string{"J1234", "23470", "C50.011", "29805-29825"}, set.Values())

	kinds := map[string]model.CodeKind{}
	for _, c := range set.Codes() {
		kinds[c.Value] = c.Kind
	}
	assert.Equal(t, model.CodeKindAlphanumeric, kinds["J1234"])
	assert.Equal(t, model.CodeKindDiagnosis, kinds["C50.011"])
	assert.Equal(t, model.CodeKindProcedureRange, kinds["29805-29825"])

	assert.Equal(t, []string{"J1234", "23470", "29805-29825"}, Procedures(set).Values())
	assert.Equal(t, []string{"C50.011"}, Diagnoses(set).Values())
}

func TestCodesIgnoresNonCodeNumbers(t *testing.T) {
	set := Codes("Effective 01/01/2025, call 1-800-555-0100 or see page 12.")
	assert.Equal(t, 0, set.Len())
}

func TestStatesByNameAndAbbreviation(t *testing.T) {
	got := States("Prior authorization is required for all states except in Alaska, Massachusetts, Texas and Utah.")
	assert.Equal(t, []string{"AK", "MA", "TX", "UT"}, got)

	got = States("except in AK, MA, PR, RI, TX, UT, the Virgin Islands and WI")
	assert.Equal(t, []string{"AK", "MA", "PR", "RI", "TX", "UT", "VI", "WI"}, got)
}

func TestStatesLongestNameWins(t *testing.T) {
	assert.Equal(t, []string{"WV"}, States("Not applicable in West Virginia."))
	assert.Equal(t, []string{"NY"}, States("Only in New   York"))
}

func TestAmbiguousAbbreviationsNeedNeighbors(t *testing.T) {
	assert.Empty(t, States("Services performed IN an office OR at home"))
	assert.Equal(t, []string{"OR", "WA"}, States("excluding OR and WA"))
	assert.Equal(t, []string{"TX"}, States("except in TX"))
}

func TestStatesAfter(t *testing.T) {
	text := "Texas members: prior authorization required except in Utah and Nevada."
	assert.Equal(t, []string{"UT", "NV"}, StatesAfter(text, 40))
}

func TestPlacesOfService(t *testing.T) {
	table := patterns.MustDefault()
	text := "Not required if performed in an office. Required when performed in an outpatient hospital. Site of service will be reviewed."

	places := PlacesOfService(table, text)
	require.Len(t, places, 3)
	assert.Equal(t, "11", places[0].Code)
	assert.False(t, places[0].RequiresAuth)
	assert.Equal(t, "22", places[1].Code)
	assert.Equal(t, "*", places[2].Code)

	assert.Empty(t, PlacesOfService(table, "23470 23472"))
}

func TestCoverage(t *testing.T) {
	table := patterns.MustDefault()
	text := "Arthroplasty Prior authorization required. 23470 23472 23473"
	tokens := Tokenize(text)

	matches := table.Authorization.All().All(text)
	cov := Coverage(tokens, MatchSpans(matches))
	assert.Equal(t, model.Coverage{Matched: 6, Total: 7}, cov)

	assert.Equal(t, model.Coverage{}, Coverage(nil, nil))
}
