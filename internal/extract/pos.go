package extract

import (
	"github.com/ppiankov/authrules/internal/model"
	"github.com/ppiankov/authrules/internal/patterns"
)

// PlacesOfService returns the place-of-service conditions stated in text,
// in table order
func PlacesOfService(table *patterns.Table, text string) []model.PlaceOfService {
	var out []model.PlaceOfService
	for i := range table.PlaceOfService {
		cue := &table.PlaceOfService[i]
		if _, ok := cue.Find(text); !ok {
			continue
		}
		out = append(out, model.PlaceOfService{
			Code:         cue.Code,
			Description:  cue.Description,
			RequiresAuth: cue.RequiresAuth,
			ReviewType:   cue.ReviewType,
		})
	}
	return out
}
