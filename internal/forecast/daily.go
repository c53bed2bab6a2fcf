package forecast

import (
	"errors"
	"fmt"
	"math"

	"github.com/lox/homedash/internal/models"
)

// DefaultDays is the number of daily summaries returned when the caller
// does not ask for a specific count.
const DefaultDays = 5

const msToKmh = 3.6

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMalformedSample = errors.New("malformed forecast sample")
)

// Aggregate groups 3-hourly forecast samples into daily summaries.
//
// Samples are keyed by the calendar date of their own timestamp (no timezone
// conversion). Days are returned in order of first appearance, truncated to
// maxDays; samples for later days are dropped.
func Aggregate(samples []models.ForecastSample, maxDays int) ([]models.DailySummary, error) {
	if maxDays <= 0 {
		return nil, fmt.Errorf("%w: maxDays must be positive, got %d", ErrInvalidArgument, maxDays)
	}
	for i, s := range samples {
		if err := checkSample(s); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	var keys []string
	groups := make(map[string][]models.ForecastSample)
	for _, s := range samples {
		key := s.Time.Format("2006-01-02")
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], s)
	}

	if len(keys) > maxDays {
		keys = keys[:maxDays]
	}

	days := make([]models.DailySummary, 0, len(keys))
	for _, key := range keys {
		days = append(days, summarizeDay(key, groups[key]))
	}
	return days, nil
}

func checkSample(s models.ForecastSample) error {
	if s.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedSample)
	}
	if math.IsNaN(s.Temp) || math.IsInf(s.Temp, 0) {
		return fmt.Errorf("%w: temperature is not a number", ErrMalformedSample)
	}
	return nil
}

// summarizeDay builds the summary for one non-empty date group.
func summarizeDay(date string, group []models.ForecastSample) models.DailySummary {
	minTemp, maxTemp := group[0].Temp, group[0].Temp
	var (
		sumHumidity float64
		sumWind     float64
		maxPop      = math.Inf(-1)
		totalPrecip float64
		tally       conditionTally
	)

	for _, s := range group {
		minTemp = math.Min(minTemp, s.Temp)
		maxTemp = math.Max(maxTemp, s.Temp)
		sumHumidity += s.Humidity
		sumWind += s.WindSpeed
		maxPop = math.Max(maxPop, s.PrecipProbability*100)
		if s.PrecipVolume != nil {
			totalPrecip += *s.PrecipVolume
		}
		tally.add(s.Condition)
	}

	n := float64(len(group))
	dominant := tally.dominant()
	day := models.DailySummary{
		Date: date,
		Temperature: models.TemperatureRange{
			Min: roundInt(minTemp),
			Max: roundInt(maxTemp),
		},
		Condition: dominant,
		Humidity:  roundInt(sumHumidity / n),
		WindSpeed: roundInt(sumWind / n * msToKmh),
		Precipitation: models.Precipitation{
			Probability: roundInt(maxPop),
			Amount:      totalPrecip,
		},
	}

	if first, ok := firstMatching(group, func(s models.ForecastSample) bool {
		return s.Condition == dominant
	}); ok {
		day.Description = first.Description
		day.Icon = first.Icon
	}

	return day
}

// firstMatching returns the first sample in group satisfying pred.
func firstMatching(group []models.ForecastSample, pred func(models.ForecastSample) bool) (models.ForecastSample, bool) {
	for _, s := range group {
		if pred(s) {
			return s, true
		}
	}
	return models.ForecastSample{}, false
}

// conditionTally counts condition labels, remembering the order in which
// each label was first seen.
type conditionTally struct {
	order  []string
	counts map[string]int
}

func (t *conditionTally) add(condition string) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, seen := t.counts[condition]; !seen {
		t.order = append(t.order, condition)
	}
	t.counts[condition]++
}

// dominant returns the most frequent label. Ties go to the label seen first.
func (t *conditionTally) dominant() string {
	best, bestCount := "", 0
	for _, c := range t.order {
		if t.counts[c] > bestCount {
			best, bestCount = c, t.counts[c]
		}
	}
	return best
}

// roundInt rounds half away from zero.
func roundInt(v float64) int {
	return int(math.Round(v))
}
