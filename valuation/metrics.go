// Copyright 2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package valuation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	dataframe "github.com/rocketlaunchr/dataframe-go"
	"go.opentelemetry.io/otel"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a user's statistic series into headline numbers for the
// read surface. All values are USD. MaxDrawdown is the worst peak-to-trough
// loss as a negative fraction; GrowthPercent is the absolute total change
// formatted to two decimals.
type Summary struct {
	UserID        string     `json:"userId"`
	NumPoints     int        `json:"numPoints"`
	Begin         *time.Time `json:"begin,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	FirstValue    float64    `json:"firstValue"`
	LastValue     float64    `json:"lastValue"`
	GrowthPercent string     `json:"growthPercent"`
	MaxDrawdown   float64    `json:"maxDrawdown"`
	MeanValue     float64    `json:"meanValue"`
	StdDev        float64    `json:"stdDev"`
}

// UserSummary loads the user's statistic series and summarizes it. An empty
// series yields a zero report, not an error.
func UserSummary(ctx context.Context, userID string) (*Summary, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "valuation.UserSummary")
	defer span.End()

	stats, err := data.UserStatistics(ctx, userID)
	if err != nil {
		return nil, err
	}

	return summarize(userID, stats), nil
}

func summarize(userID string, stats []*data.Statistic) *Summary {
	summary := &Summary{
		UserID:        userID,
		GrowthPercent: "0.00",
	}
	if len(stats) == 0 {
		return summary
	}

	times := make([]time.Time, 0, len(stats))
	values := make([]float64, 0, len(stats))
	for _, point := range stats {
		times = append(times, point.EventTime)
		values = append(values, point.TotalValue)
	}

	timeSeries := dataframe.NewSeriesTime("event_time", &dataframe.SeriesInit{Size: len(stats)}, times)
	valueSeries := dataframe.NewSeriesFloat64("total_value", &dataframe.SeriesInit{Size: len(stats)}, values)
	frame := dataframe.NewDataFrame(timeSeries, valueSeries)

	totals := frame.Series[1].(*dataframe.SeriesFloat64).Values

	summary.NumPoints = frame.NRows()
	summary.Begin = timeSeries.Values[0]
	summary.End = timeSeries.Values[len(timeSeries.Values)-1]
	summary.FirstValue = totals[0]
	summary.LastValue = totals[len(totals)-1]
	summary.GrowthPercent = growthPercent(summary.FirstValue, summary.LastValue)
	summary.MaxDrawdown = maxDrawdown(totals)
	summary.MeanValue = stat.Mean(totals, nil)
	if len(totals) > 1 {
		summary.StdDev = stat.StdDev(totals, nil)
	}

	return summary
}

// growthPercent formats the absolute percent change from first to last. A
// missing or zero last value reads as no growth; a zero first value is
// replaced by 1 so the division is defined.
func growthPercent(first, last float64) string {
	if last == 0 {
		return "0.00"
	}
	if first == 0 {
		first = 1
	}
	return fmt.Sprintf("%.2f", math.Abs((last-first)/first*100))
}

// maxDrawdown walks the series tracking the running peak and returns the
// deepest loss below it as a negative fraction. Zero when the series never
// falls below a previous peak.
func maxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	peak := values[0]
	worst := 0.0
	for _, value := range values {
		peak = math.Max(peak, value)
		if peak <= 0 {
			continue
		}
		loss := value/peak - 1.0
		if loss < worst {
			worst = loss
		}
	}
	return worst
}
