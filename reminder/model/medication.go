package model

import "time"

// Medication is read-only to the engine; only Name and Dosage feed notification text.
type Medication struct {
	ID            string    `json:"id"`
	ProfileID     string    `json:"profile_id"`
	Name          string    `json:"name"`
	Dosage        string    `json:"dosage"`
	StockQuantity int       `json:"stock_quantity"`
	MinStockAlert int       `json:"min_stock_alert"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// SelectMedications returns the medications whose id is in ids, keeping ids order.
func SelectMedications(ids []string, meds []Medication) []Medication {
	byID := make(map[string]Medication, len(meds))
	for _, m := range meds {
		byID[m.ID] = m
	}
	out := make([]Medication, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out
}
