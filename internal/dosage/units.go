package dosage

import (
	"math"
	"strconv"
	"strings"
)

// Canonical units.
const (
	UnitMilligram  = "mg"
	UnitMillilitre = "ml"
)

type unitDef struct {
	abbreviations []string
	canonical     string
	// value in canonical units = magnitude * multiplier / divisor
	multiplier float64
	divisor    float64
}

var units = []unitDef{
	{[]string{"mg"}, UnitMilligram, 1, 1},
	{[]string{"g"}, UnitMilligram, 1000, 1},
	{[]string{"mcg", "µg", "μg", "ug"}, UnitMilligram, 1, 1000},
	{[]string{"ml"}, UnitMillilitre, 1, 1},
}

func unitByAbbreviation(search string) (unitDef, bool) {
	search = strings.ToLower(strings.TrimSpace(search))
	for _, u := range units {
		for _, abbreviation := range u.abbreviations {
			if search == abbreviation {
				return u, true
			}
		}
	}
	return unitDef{}, false
}

// NormalizeUnit converts a strength to its canonical unit: mass units to
// milligrams and ml unchanged. Unknown units pass through untouched.
func NormalizeUnit(magnitude *float64, unit *string) (*float64, *string) {
	if magnitude == nil {
		return nil, nil
	}
	if unit == nil || strings.TrimSpace(*unit) == "" {
		return magnitude, nil
	}
	u, ok := unitByAbbreviation(*unit)
	if !ok {
		return magnitude, unit
	}
	v := *magnitude * u.multiplier / u.divisor
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return magnitude, unit
	}
	canonical := u.canonical
	return &v, &canonical
}

// ParseMagnitude parses a numeric strength token. Malformed, non-finite and
// empty tokens yield nil.
func ParseMagnitude(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// DailyDose multiplies a strength by the administrations per day, treating
// an unknown frequency as once daily.
func DailyDose(strength float64, perDay *int) float64 {
	if perDay == nil {
		return strength
	}
	return strength * float64(*perDay)
}
