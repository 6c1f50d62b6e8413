package dashboard

import (
	"fmt"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
)

const (
	Title        = "Asteroid Impact Simulator 🚀"
	EmptyWarning = "No asteroid data available. Check your API key or internet connection."
	PlotTitle    = "Asteroid Impact Simulation"
	CaptionTitle = "Impact Simulation"
	Caption      = "Based on the asteroid's size, speed, and distance from Earth, the above simulation shows the impact location and potential damage. " +
		"Larger asteroids with greater speeds will have more significant impacts and wider radii."
)

// Input is everything one page view depends on.
type Input struct {
	Range     models.DateRange
	Feed      models.Feed
	FetchErr  error
	Selection string
}

// Detail is one labelled field of the selected record.
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// View is the render model. When Warning is set, only Title and Warning are
// populated.
type View struct {
	Title     string           `json:"title"`
	StartDate string           `json:"startDate"`
	EndDate   string           `json:"endDate"`
	Warning   string           `json:"warning,omitempty"`
	Summary   *Summary         `json:"summary,omitempty"`
	Names     []string         `json:"names,omitempty"`
	Selected  string           `json:"selected,omitempty"`
	Asteroid  *models.Asteroid `json:"asteroid,omitempty"`
	Details   []Detail         `json:"details,omitempty"`
	Impact    *Impact          `json:"impact,omitempty"`
	Caption   string           `json:"caption,omitempty"`
}

// Empty reports whether the view stopped at the warning.
func (v View) Empty() bool {
	return v.Warning != ""
}

// Build computes the view. A fetch error is indistinguishable from an empty
// feed here: both produce the same warning and nothing else.
func Build(in Input, j Jitter) View {
	v := View{
		Title:     Title,
		StartDate: in.Range.StartDate(),
		EndDate:   in.Range.EndDate(),
	}

	rows := in.Feed.Asteroids
	if in.FetchErr != nil || len(rows) == 0 {
		v.Warning = EmptyWarning
		return v
	}

	summary := Summarize(rows)
	names := Names(rows)
	selected := in.Selection
	a, ok := Select(rows, selected)
	if !ok {
		selected = names[0]
		a, _ = Select(rows, selected)
	}
	impact := SimulateImpact(a, j)

	v.Summary = &summary
	v.Names = names
	v.Selected = selected
	v.Asteroid = &a
	v.Details = details(a)
	v.Impact = &impact
	v.Caption = Caption
	return v
}

func details(a models.Asteroid) []Detail {
	return []Detail{
		{Label: "Diameter", Value: formatNumber(a.DiameterM) + " meters"},
		{Label: "Speed", Value: formatNumber(a.SpeedKmh) + " km/h"},
		{Label: "Distance from Earth", Value: formatNumber(a.DistanceKm) + " km"},
		{Label: "Orbiting Body", Value: a.OrbitingBody},
		{Label: "Potentially Hazardous", Value: fmt.Sprintf("%t", a.Hazardous)},
	}
}
