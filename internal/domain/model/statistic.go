package model

import (
	"strings"
	"time"
)

// Period is the aggregation granularity requested from the statistics store.
type Period string

// Supported periods.
const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// StatisticEntry is one row of an import batch.
// Sum is the cumulative total including this hour.
type StatisticEntry struct {
	Start string  `json:"start"` // RFC3339 with offset
	State float64 `json:"state"`
	Sum   float64 `json:"sum"`
}

// StatisticPoint is a prior point returned by the statistics store.
type StatisticPoint struct {
	Start time.Time
	Sum   float64
	State float64
}

// StatisticMetadata describes the imported series.
type StatisticMetadata struct {
	HasMean           bool   `json:"has_mean"`
	HasSum            bool   `json:"has_sum"`
	Name              string `json:"name"`
	Source            string `json:"source"`
	StatisticID       string `json:"statistic_id"`
	UnitOfMeasurement string `json:"unit_of_measurement"`
}

// NewSumMetadata builds metadata for a cumulative (sum) series. When the
// statistic id has the external "source:object" form, the source is taken
// from its prefix.
func NewSumMetadata(statisticID, name, unit string) StatisticMetadata {
	source := "recorder"
	if i := strings.IndexByte(statisticID, ':'); i > 0 {
		source = statisticID[:i]
	}
	return StatisticMetadata{
		HasMean:           false,
		HasSum:            true,
		Name:              name,
		Source:            source,
		StatisticID:       statisticID,
		UnitOfMeasurement: unit,
	}
}
