package corpus

import (
	"sort"

	"kb-toolkit/internal/helper"
	"kb-toolkit/internal/models"
)

// SaveRecords writes records to path as a JSON object keyed by ID.
func SaveRecords(path string, records []models.DocumentRecord) error {
	byID := make(map[string]models.DocumentRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	return helper.SaveJSON(byID, path)
}

// LoadRecords reads a file written by SaveRecords, sorted by ID.
func LoadRecords(path string) ([]models.DocumentRecord, error) {
	var byID map[string]models.DocumentRecord
	if err := helper.LoadJSON(path, &byID); err != nil {
		return nil, err
	}
	records := make([]models.DocumentRecord, 0, len(byID))
	for id, r := range byID {
		r.ID = id
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// WithEmbeddings returns the records that carry a vector.
func WithEmbeddings(records []models.DocumentRecord) []models.DocumentRecord {
	out := make([]models.DocumentRecord, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) > 0 {
			out = append(out, r)
		}
	}
	return out
}
