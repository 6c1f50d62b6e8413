package dashboard

import "github.com/kjstillabower/asteroid-dashboard/internal/models"

// Summary holds the metric tiles.
type Summary struct {
	Count         int     `json:"count"`
	MeanDiameterM float64 `json:"meanDiameterM"`
	MeanSpeedKmh  float64 `json:"meanSpeedKmh"`
}

// Summarize returns the count and arithmetic means. An empty collection
// yields zeros rather than NaN; Build never shows it.
func Summarize(rows []models.Asteroid) Summary {
	if len(rows) == 0 {
		return Summary{}
	}
	var diameter, speed float64
	for _, r := range rows {
		diameter += r.DiameterM
		speed += r.SpeedKmh
	}
	n := float64(len(rows))
	return Summary{
		Count:         len(rows),
		MeanDiameterM: diameter / n,
		MeanSpeedKmh:  speed / n,
	}
}

// Names returns the distinct names in first-seen order.
func Names(rows []models.Asteroid) []string {
	seen := make(map[string]struct{}, len(rows))
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		names = append(names, r.Name)
	}
	return names
}

// Select returns the first record named name.
func Select(rows []models.Asteroid, name string) (models.Asteroid, bool) {
	for _, r := range rows {
		if r.Name == name {
			return r, true
		}
	}
	return models.Asteroid{}, false
}
