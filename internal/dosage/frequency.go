// Package dosage decodes prescription frequency abbreviations and
// normalizes dose strengths to canonical units.
package dosage

import (
	"strconv"
	"strings"
)

// Frequency is a decoded frequency token. A recognized token with a nil
// PerDay means "as needed".
type Frequency struct {
	PerDay     *int
	Recognized bool
}

// AsNeeded reports whether the token was recognized as an as-needed schedule.
func (f Frequency) AsNeeded() bool {
	return f.Recognized && f.PerDay == nil
}

type frequencyDef struct {
	names  []string
	perDay int // 0 = as needed
}

var frequencies = []frequencyDef{
	{[]string{"od", "qd", "daily"}, 1},
	{[]string{"bd", "bid"}, 2},
	{[]string{"tds", "tid"}, 3},
	{[]string{"qid", "qds"}, 4},
	{[]string{"hs", "qhs", "nocte"}, 1},
	{[]string{"prn", "sos"}, 0},
}

var frequencyByName = func() map[string]int {
	m := make(map[string]int)
	for _, def := range frequencies {
		for _, name := range def.names {
			m[name] = def.perDay
		}
	}
	return m
}()

// DecodeFrequency maps a frequency abbreviation to administrations per day.
// Tokens of the form "<N>x" decode to N for positive N.
func DecodeFrequency(token string) Frequency {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return Frequency{}
	}
	if perDay, ok := frequencyByName[t]; ok {
		if perDay == 0 {
			return Frequency{Recognized: true}
		}
		return Frequency{PerDay: &perDay, Recognized: true}
	}
	if n, ok := multiplier(t); ok {
		return Frequency{PerDay: &n, Recognized: true}
	}
	return Frequency{}
}

func multiplier(t string) (int, bool) {
	digits, ok := strings.CutSuffix(t, "x")
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
