package digest

import "github.com/roach88/graphwriter/internal/model"

// TempIDMappings collects the results that carry both a caller-supplied
// temp id and a resolved real id. The map is nil when nothing resolved.
func TempIDMappings(results []model.Result) (map[string]string, []model.TempIDMapping) {
	var (
		byTemp   map[string]string
		mappings []model.TempIDMapping
	)
	for i, r := range results {
		if r.TempID == "" || r.Skipped {
			continue
		}
		realID := r.ResolvedID()
		if realID == "" {
			continue
		}
		if byTemp == nil {
			byTemp = make(map[string]string)
		}
		byTemp[r.TempID] = realID
		mappings = append(mappings, model.TempIDMapping{
			TempID:      r.TempID,
			RealID:      realID,
			Op:          r.Op,
			ResultIndex: i,
		})
	}
	return byTemp, mappings
}
