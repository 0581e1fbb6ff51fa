package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/rxguard/rxguard/internal/domain"
	"github.com/rxguard/rxguard/internal/dosage"
)

// RouteOral is assigned to every pattern match.
const RouteOral = "oral"

// medicationRe matches "<name> <strength> <unit> [<frequency>]".
var medicationRe = regexp.MustCompile(
	`(?i)([a-z]+(?:\s[a-z]+)*)\s+(\d+(?:\.\d+)?)\s*(mg|g|mcg)\b(?:\s+([a-z0-9]+))?`,
)

// Entity groups kept from the recognizer.
var drugGroups = map[string]bool{"chemical": true, "drug": true}

// Extractor turns prescription text into medication entries.
type Extractor struct {
	recognizer EntityRecognizer
	logger     *slog.Logger
}

// NewExtractor creates an extractor. recognizer may be nil, which disables
// the fallback.
func NewExtractor(recognizer EntityRecognizer) *Extractor {
	return &Extractor{
		recognizer: recognizer,
		logger:     slog.Default().With("component", "extractor"),
	}
}

// Extract returns the medications found in raw, in order of appearance.
// It never fails: unparseable text yields an empty slice.
func (e *Extractor) Extract(ctx context.Context, raw string) (meds []domain.MedicationEntry) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction panicked", "panic", fmt.Sprint(r))
			meds = []domain.MedicationEntry{}
		}
	}()

	text := Normalize(raw)
	if text == "" {
		return []domain.MedicationEntry{}
	}

	meds = matchMedications(text)
	if len(meds) > 0 || e.recognizer == nil {
		return meds
	}
	return e.recognize(ctx, text)
}

func matchMedications(text string) []domain.MedicationEntry {
	meds := []domain.MedicationEntry{}
	pos := 0
	// start of the frequency token the previous match could not decode
	rejected := -1
	for pos < len(text) {
		loc := medicationRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		end := loc[1]

		start, nameStart, nameEnd := pos+loc[0], pos+loc[2], pos+loc[3]
		if nameStart == rejected {
			nameStart = dropLeadingWord(text, nameStart, nameEnd)
			start = nameStart
		}
		rejected = -1

		name := text[nameStart:nameEnd]
		strength := dosage.ParseMagnitude(text[pos+loc[4] : pos+loc[5]])
		unit := strings.ToLower(text[pos+loc[6] : pos+loc[7]])

		var perDay *int
		if loc[8] >= 0 {
			freq := dosage.DecodeFrequency(text[pos+loc[8] : pos+loc[9]])
			if freq.Recognized {
				perDay = freq.PerDay
			} else {
				// The token may start the next drug name.
				end = loc[7]
				rejected = pos + loc[8]
			}
		}

		meds = append(meds, domain.MedicationEntry{
			Raw:             strings.TrimSpace(text[start : pos+end]),
			DrugName:        domain.StringPtr(strings.TrimSpace(name)),
			Strength:        strength,
			Unit:            domain.StringPtr(unit),
			FrequencyPerDay: perDay,
			Route:           domain.StringPtr(RouteOral),
			Confidence:      domain.DefaultConfidence,
		})
		pos += end
	}
	return meds
}

// dropLeadingWord returns the offset of the second word of text[from:to],
// or from when the name is a single word.
func dropLeadingWord(text string, from, to int) int {
	name := text[from:to]
	i := strings.IndexFunc(name, unicode.IsSpace)
	if i < 0 {
		return from
	}
	rest := strings.TrimLeftFunc(name[i:], unicode.IsSpace)
	if rest == "" {
		return from
	}
	return to - len(rest)
}

func (e *Extractor) recognize(ctx context.Context, text string) []domain.MedicationEntry {
	entities, err := e.recognizer.Recognize(ctx, text)
	if err != nil {
		e.logger.Warn("entity recognizer failed", "error", err)
		return []domain.MedicationEntry{}
	}

	meds := []domain.MedicationEntry{}
	for _, ent := range entities {
		if !drugGroups[strings.ToLower(strings.TrimSpace(ent.Group))] {
			continue
		}
		word := strings.TrimSpace(ent.Word)
		if word == "" {
			continue
		}
		confidence := domain.DefaultConfidence
		if ent.Score > 0 && ent.Score <= 1 {
			confidence = ent.Score
		}
		meds = append(meds, domain.MedicationEntry{
			Raw:        word,
			DrugName:   domain.StringPtr(word),
			Confidence: confidence,
		})
	}
	return meds
}
