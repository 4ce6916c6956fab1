package stats

import (
	"errors"

	mstats "github.com/montanaflynn/stats"

	"oodresample/internal/model"
)

// SummarizeScores reports location and spread of one epoch's scores.
func SummarizeScores(values []float64) (model.ScoreSummary, error) {
	if len(values) == 0 {
		return model.ScoreSummary{}, errors.New("summarize scores: no values")
	}
	data := mstats.Float64Data(values)

	var (
		s   model.ScoreSummary
		err error
	)
	if s.Mean, err = data.Mean(); err != nil {
		return model.ScoreSummary{}, err
	}
	if s.StdDev, err = data.StandardDeviationPopulation(); err != nil {
		return model.ScoreSummary{}, err
	}
	if s.Min, err = data.Min(); err != nil {
		return model.ScoreSummary{}, err
	}
	if s.Max, err = data.Max(); err != nil {
		return model.ScoreSummary{}, err
	}
	if s.Median, err = data.Median(); err != nil {
		return model.ScoreSummary{}, err
	}
	if len(values) > 1 {
		if s.P25, err = data.Percentile(25); err != nil {
			return model.ScoreSummary{}, err
		}
		if s.P75, err = data.Percentile(75); err != nil {
			return model.ScoreSummary{}, err
		}
	} else {
		s.P25, s.P75 = s.Median, s.Median
	}
	return s, nil
}
