package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
)

// feedResponse is the outer NeoWs feed document. Dates are decoded lazily so a
// bad date bucket or entry cannot fail the whole batch.
type feedResponse struct {
	NearEarthObjects map[string]json.RawMessage `json:"near_earth_objects"`
}

// neoEntry holds only the fields the dashboard needs. Pointers distinguish
// missing fields from zero values.
type neoEntry struct {
	Name              *string `json:"name"`
	EstimatedDiameter *struct {
		Meters *struct {
			Max *feedNumber `json:"estimated_diameter_max"`
		} `json:"meters"`
	} `json:"estimated_diameter"`
	CloseApproachData []closeApproach `json:"close_approach_data"`
	Hazardous         *bool           `json:"is_potentially_hazardous_asteroid"`
}

type closeApproach struct {
	RelativeVelocity *struct {
		KilometersPerHour *feedNumber `json:"kilometers_per_hour"`
	} `json:"relative_velocity"`
	MissDistance *struct {
		Kilometers *feedNumber `json:"kilometers"`
	} `json:"miss_distance"`
	OrbitingBody *string `json:"orbiting_body"`
}

// feedNumber accepts a JSON number or a numeric string. NeoWs encodes
// velocities and distances as strings. NaN and infinities are rejected.
type feedNumber float64

var errNonFinite = errors.New("number is not finite")

func (n *feedNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("parse number %q: %w", s, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("parse number %q: %w", s, errNonFinite)
		}
		*n = feedNumber(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = feedNumber(f)
	return nil
}

// Normalize flattens a feed body into one Asteroid per entry, dates in
// ascending order and entries in feed order within a date. Entries missing a
// required field or failing numeric coercion are skipped and counted. Only a
// body that is not a JSON object is an error.
func Normalize(body []byte) ([]models.Asteroid, int, error) {
	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("parse response: %w", err)
	}

	dates := make([]string, 0, len(resp.NearEarthObjects))
	for date := range resp.NearEarthObjects {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	asteroids := make([]models.Asteroid, 0)
	skipped := 0
	for _, date := range dates {
		var entries []json.RawMessage
		if err := json.Unmarshal(resp.NearEarthObjects[date], &entries); err != nil {
			continue
		}
		for _, raw := range entries {
			a, ok := normalizeEntry(raw)
			if !ok {
				skipped++
				continue
			}
			asteroids = append(asteroids, a)
		}
	}
	return asteroids, skipped, nil
}

func normalizeEntry(raw json.RawMessage) (models.Asteroid, bool) {
	var e neoEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.Asteroid{}, false
	}
	if e.Name == nil || e.Hazardous == nil {
		return models.Asteroid{}, false
	}
	if e.EstimatedDiameter == nil || e.EstimatedDiameter.Meters == nil || e.EstimatedDiameter.Meters.Max == nil {
		return models.Asteroid{}, false
	}
	if len(e.CloseApproachData) == 0 {
		return models.Asteroid{}, false
	}
	ca := e.CloseApproachData[0]
	if ca.RelativeVelocity == nil || ca.RelativeVelocity.KilometersPerHour == nil ||
		ca.MissDistance == nil || ca.MissDistance.Kilometers == nil || ca.OrbitingBody == nil {
		return models.Asteroid{}, false
	}

	return models.Asteroid{
		Name:         *e.Name,
		DiameterM:    float64(*e.EstimatedDiameter.Meters.Max),
		SpeedKmh:     float64(*ca.RelativeVelocity.KilometersPerHour),
		DistanceKm:   float64(*ca.MissDistance.Kilometers),
		OrbitingBody: *ca.OrbitingBody,
		Hazardous:    *e.Hazardous,
	}, true
}
