package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used by the NeoWs feed.
const DateLayout = "2006-01-02"

// Asteroid is one near-Earth object at one close-approach event.
type Asteroid struct {
	Name         string  `json:"name"`
	DiameterM    float64 `json:"diameterM"`
	SpeedKmh     float64 `json:"speedKmh"`
	DistanceKm   float64 `json:"distanceKm"`
	OrbitingBody string  `json:"orbitingBody"`
	Hazardous    bool    `json:"hazardous"`
}

// Feed is the normalized result of one feed request.
type Feed struct {
	StartDate string     `json:"startDate"`
	EndDate   string     `json:"endDate"`
	Asteroids []Asteroid `json:"asteroids"`
	Skipped   int        `json:"skipped"` // entries dropped as malformed
	FetchedAt time.Time  `json:"fetchedAt"`
}

// DateRange is an inclusive pair of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange returns the range starting at the calendar day of start and
// ending days later.
func NewDateRange(start time.Time, days int) DateRange {
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	return DateRange{Start: day, End: day.AddDate(0, 0, days)}
}

// StartDate returns Start formatted as YYYY-MM-DD.
func (r DateRange) StartDate() string { return r.Start.Format(DateLayout) }

// EndDate returns End formatted as YYYY-MM-DD.
func (r DateRange) EndDate() string { return r.End.Format(DateLayout) }

// Key is the memoization key for the range.
func (r DateRange) Key() string {
	return fmt.Sprintf("%s_%s", r.StartDate(), r.EndDate())
}

// Days returns the number of calendar days between Start and End. Dates are
// compared as UTC midnights so a DST change inside the range does not shorten it.
func (r DateRange) Days() int {
	return int(calendarDay(r.End).Sub(calendarDay(r.Start)).Hours() / 24)
}

func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
