package detection

import "github.com/samber/lo"

// Formatted is the response shape of one detection.
type Formatted struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Format maps raw detections to their response shape, preserving order.
// An empty input yields an empty, non-nil slice.
func Format(raws []Raw, catalog Catalog) []Formatted {
	if catalog == nil {
		catalog = ListCatalog(nil)
	}
	out := lo.Map(raws, func(d Raw, _ int) Formatted {
		return Formatted{
			ClassID:    d.ClassID,
			ClassName:  catalog.Name(d.ClassID),
			Confidence: d.Confidence,
			Box:        d.Box,
		}
	})
	if out == nil {
		out = []Formatted{}
	}
	return out
}
