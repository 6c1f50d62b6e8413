package dashboard

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
)

// Base marker position and jitter half-width, in degrees.
const (
	BaseLat     = 20.0
	BaseLon     = 0.0
	JitterRange = 5.0
)

// Impact is the single map marker. It is cosmetic, not a physical model.
type Impact struct {
	RadiusKm float64 `json:"radiusKm"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Label    string  `json:"label"`
}

// Jitter supplies the marker offset for a selected record. Offsets must lie
// in [-JitterRange, JitterRange] on each axis.
type Jitter interface {
	Offset(a models.Asteroid) (dLat, dLon float64)
}

// ImpactRadius is ln(diameter) * 10, or 0 when the diameter is not positive.
func ImpactRadius(diameterM float64) float64 {
	if diameterM <= 0 {
		return 0
	}
	return math.Log(diameterM) * 10
}

// SimulateImpact places the marker for a and labels it.
func SimulateImpact(a models.Asteroid, j Jitter) Impact {
	radius := ImpactRadius(a.DiameterM)
	dLat, dLon := j.Offset(a)
	return Impact{
		RadiusKm: radius,
		Lat:      BaseLat + dLat,
		Lon:      BaseLon + dLon,
		Label: fmt.Sprintf("Impact!\nDiameter: %s m\nSpeed: %s km/h\nImpact Radius: %.2f km",
			formatNumber(a.DiameterM), formatNumber(a.SpeedKmh), radius),
	}
}

// RandomJitter draws fresh uniform offsets on every call, so the marker moves
// between renders of the same selection.
type RandomJitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomJitter seeds a RandomJitter. Tests pass a fixed seed.
func NewRandomJitter(seed int64) *RandomJitter {
	return &RandomJitter{rng: rand.New(rand.NewSource(seed))}
}

func (j *RandomJitter) Offset(models.Asteroid) (float64, float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uniform(j.rng), uniform(j.rng)
}

// SeededJitter derives the offsets from the asteroid name, so a selection
// always lands in the same place.
type SeededJitter struct{}

func (SeededJitter) Offset(a models.Asteroid) (float64, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(a.Name))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	return uniform(rng), uniform(rng)
}

func uniform(rng *rand.Rand) float64 {
	return -JitterRange + rng.Float64()*2*JitterRange
}

// formatNumber prints the shortest exact representation of f.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
