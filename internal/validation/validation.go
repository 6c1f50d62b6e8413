package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kjstillabower/asteroid-dashboard/internal/models"
)

// MaxRangeDays is the widest span the NeoWs feed accepts in one request.
const MaxRangeDays = 7

// ErrInvalidDate is returned when a date is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

// ErrRangeReversed is returned when end_date is before start_date.
var ErrRangeReversed = errors.New("end_date is before start_date")

// ErrRangeTooWide is returned when the span exceeds MaxRangeDays.
var ErrRangeTooWide = fmt.Errorf("date range exceeds %d days", MaxRangeDays)

// ErrSelectionTooLong is returned when an asteroid selection exceeds the maximum length.
var ErrSelectionTooLong = errors.New("asteroid name too long")

// ErrSelectionInvalidChars is returned when an asteroid selection contains control characters.
var ErrSelectionInvalidChars = errors.New("asteroid name contains invalid characters")

// ValidateDateRange parses start and end (YYYY-MM-DD) in def's location. An
// empty start takes def's start; an empty end is start plus def's span,
// clipped to MaxRangeDays. The result spans at most MaxRangeDays.
func ValidateDateRange(start, end string, def models.DateRange) (models.DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return def, nil
	}
	loc := def.Start.Location()

	from := def.Start
	if start != "" {
		t, err := time.ParseInLocation(models.DateLayout, start, loc)
		if err != nil {
			return models.DateRange{}, fmt.Errorf("start_date %q: %w", start, ErrInvalidDate)
		}
		from = t
	}

	var to time.Time
	if end == "" {
		to = from.AddDate(0, 0, min(def.Days(), MaxRangeDays))
	} else {
		t, err := time.ParseInLocation(models.DateLayout, end, loc)
		if err != nil {
			return models.DateRange{}, fmt.Errorf("end_date %q: %w", end, ErrInvalidDate)
		}
		to = t
	}

	r := models.DateRange{Start: from, End: to}
	if r.Days() < 0 {
		return models.DateRange{}, ErrRangeReversed
	}
	if r.Days() > MaxRangeDays {
		return models.DateRange{}, ErrRangeTooWide
	}
	return r, nil
}

// ValidateSelection trims an asteroid name from the query string. Empty is
// allowed and means "first asteroid". Names in the feed include digits,
// parentheses and spaces, so only control characters and length are checked.
func ValidateSelection(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrSelectionTooLong
	}
	for _, c := range r {
		if !unicode.IsPrint(c) {
			return "", ErrSelectionInvalidChars
		}
	}
	return s, nil
}
