// Package metering turns raw cumulative energy telemetry into power and
// energy readings with a restart-durable running total.
package metering

import (
	"fmt"
	"strconv"
	"strings"
)

// Params is one decoded InsightParams report.
type Params struct {
	State          int   // 0 off, 1 on, 8 standby
	TodayOnSeconds int64 // seconds switched on today
	PowerMW        int64 // instantaneous power in milliwatts
	TodayMWMin     int64 // energy used today in milliwatt-minutes
}

// ParseParams decodes the pipe-separated InsightParams value:
// state|lastchange|onfor|ontoday|ontotal|timeperiod|x|currentmw|todaymw|totalmw|threshold
func ParseParams(raw string) (Params, error) {
	fields := strings.Split(strings.TrimSpace(raw), "|")
	if len(fields) < 9 {
		return Params{}, fmt.Errorf("insight params: want at least 9 fields, got %d", len(fields))
	}

	ints := make([]int64, 9)
	for _, i := range []int{0, 3, 7, 8} {
		// todaymw is reported with a fractional part by some firmware
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Params{}, fmt.Errorf("insight params field %d: %w", i, err)
		}
		ints[i] = int64(f)
	}

	return Params{
		State:          int(ints[0]),
		TodayOnSeconds: ints[3],
		PowerMW:        ints[7],
		TodayMWMin:     ints[8],
	}, nil
}
