package extract

import "github.com/ppiankov/authrules/internal/model"

// Codes returns every code token in text, in first-seen order.
// Each token takes the first kind whose pattern matches.
func Codes(text string) model.CodeSet {
	return CodesFromTokens(Tokenize(text))
}

// CodesFromTokens is Codes over an existing tokenization
func CodesFromTokens(tokens []Token) model.CodeSet {
	var set model.CodeSet
	for _, tok := range tokens {
		if kind, ok := model.ClassifyToken(tok.Text); ok {
			set.Add(model.Code{Value: tok.Text, Kind: kind})
		}
	}
	return set
}

// Procedures keeps the procedure codes and ranges of a set
func Procedures(set model.CodeSet) model.CodeSet {
	return set.Filter(model.CodeKind.IsProcedure)
}

// Diagnoses keeps the diagnosis codes of a set
func Diagnoses(set model.CodeSet) model.CodeSet {
	return set.Filter(func(k model.CodeKind) bool { return k == model.CodeKindDiagnosis })
}
