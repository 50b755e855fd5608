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

// Package bond values fixed-income positions with daily interest accrual.
// Interest rates follow a step schedule keyed by reset period and may be
// capitalized into principal on a fixed monthly cadence.
package bond

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

const DefaultResetFrequencyMonths = 12

var (
	ErrBadBondRange      = errors.New("valuation date is before the purchase date")
	ErrMalformedSettings = errors.New("malformed bond settings")
)

// Settings is the interest schedule attached to a bond position.
type Settings struct {
	// CapitalizeInterest folds accrued interest into principal every
	// CapitalizationFrequency months. When the frequency is nil interest
	// is only folded at maturity.
	CapitalizeInterest      bool
	CapitalizationFrequency *int

	// ResetFrequency is the number of months each entry of Rates covers.
	ResetFrequency int

	MaturityDate time.Time

	// Rates maps the 1-based reset period index to an annual rate percent.
	// Periods beyond the last defined index reuse the last rate.
	Rates map[int]float64
}

type settingsJSON struct {
	CapitalizationOfInterest    bool   `json:"capitalizationOfInterest"`
	CapitalizationFrequency     *int   `json:"capitalizationFrequency"`
	InterestRateResetsFrequency *int   `json:"interestRateResetsFrequency"`
	MaturityDate                string `json:"maturityDate"`
	InterestRates               map[string]struct {
		Rate float64 `json:"rate"`
	} `json:"interestRates"`
}

var maturityLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseMaturity(raw string) (time.Time, error) {
	for _, layout := range maturityLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized maturity date %q", ErrMalformedSettings, raw)
}

// ParseSettings decodes the stored JSON settings of a bond position.
func ParseSettings(raw []byte) (*Settings, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedSettings)
	}

	var doc settingsJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedSettings, err)
	}

	if doc.MaturityDate == "" {
		return nil, fmt.Errorf("%w: maturity date is required", ErrMalformedSettings)
	}
	maturity, err := parseMaturity(doc.MaturityDate)
	if err != nil {
		return nil, err
	}

	if len(doc.InterestRates) == 0 {
		return nil, fmt.Errorf("%w: at least one interest rate is required", ErrMalformedSettings)
	}
	rates := make(map[int]float64, len(doc.InterestRates))
	for key, entry := range doc.InterestRates {
		period, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: interest rate period %q is not an integer", ErrMalformedSettings, key)
		}
		rates[period] = entry.Rate
	}

	resetFreq := DefaultResetFrequencyMonths
	if doc.InterestRateResetsFrequency != nil {
		resetFreq = *doc.InterestRateResetsFrequency
	}
	if resetFreq <= 0 {
		return nil, fmt.Errorf("%w: interest rate reset frequency must be positive", ErrMalformedSettings)
	}

	if doc.CapitalizationFrequency != nil && *doc.CapitalizationFrequency <= 0 {
		return nil, fmt.Errorf("%w: capitalization frequency must be positive", ErrMalformedSettings)
	}

	return &Settings{
		CapitalizeInterest:      doc.CapitalizationOfInterest,
		CapitalizationFrequency: doc.CapitalizationFrequency,
		ResetFrequency:          resetFreq,
		MaturityDate:            maturity,
		Rates:                   rates,
	}, nil
}

// rateFor returns the annual rate percent for the given reset period,
// falling back to the last defined period when the schedule runs out.
func (settings *Settings) rateFor(period int) float64 {
	if rate, ok := settings.Rates[period]; ok {
		return rate
	}
	last := 0
	for k := range settings.Rates {
		if k > last {
			last = k
		}
	}
	return settings.Rates[last]
}

// fullMonths counts calendar months between a and b ignoring the day of month.
func fullMonths(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// addMonths advances t by the given number of months, clamping the day to
// the end of the target month rather than rolling over (Jan 31 + 1 month is
// Feb 28, not Mar 3).
func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if lastDay := firstOfTarget.AddDate(0, 1, -1).Day(); day > lastDay {
		day = lastDay
	}
	hour, minute, sec := t.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// Value computes the worth of a bond at the target date by walking interest
// events from the purchase date: each reset or capitalization boundary closes
// an accrual span of whole calendar days at the period's annual rate over a
// 365-day year. The walk stops at min(target, maturity); a target past
// maturity therefore returns the maturity value.
func Value(purchasePrice float64, purchaseDate time.Time, settings *Settings, target time.Time) (float64, error) {
	if settings == nil || len(settings.Rates) == 0 {
		return 0, fmt.Errorf("%w: no interest rates", ErrMalformedSettings)
	}
	resetFreq := settings.ResetFrequency
	if resetFreq <= 0 {
		return 0, fmt.Errorf("%w: interest rate reset frequency must be positive", ErrMalformedSettings)
	}
	capitalize := settings.CapitalizeInterest && settings.CapitalizationFrequency != nil
	if capitalize && *settings.CapitalizationFrequency <= 0 {
		return 0, fmt.Errorf("%w: capitalization frequency must be positive", ErrMalformedSettings)
	}

	horizon := target
	if settings.MaturityDate.Before(horizon) {
		horizon = settings.MaturityDate
	}
	if horizon.Before(purchaseDate) {
		return 0, ErrBadBondRange
	}

	principal := purchasePrice
	accrued := 0.0
	cursor := purchaseDate

	for cursor.Before(horizon) {
		period := fullMonths(purchaseDate, cursor)/resetFreq + 1
		annualRate := settings.rateFor(period) / 100

		next := addMonths(cursor, resetFreq)
		capEvent := settings.MaturityDate
		if capitalize {
			capEvent = addMonths(cursor, *settings.CapitalizationFrequency)
		}
		if capEvent.Before(next) {
			next = capEvent
		}
		if horizon.Before(next) {
			next = horizon
		}
		if settings.MaturityDate.Before(next) {
			next = settings.MaturityDate
		}

		days := int(next.Sub(cursor) / (24 * time.Hour))
		accrued += principal * (annualRate / 365) * float64(days)

		if capitalize && next.Equal(capEvent) {
			principal += accrued
			accrued = 0
		}

		cursor = next
	}

	return principal + accrued, nil
}

// ValueFromJSON parses raw settings and values the bond in one step.
func ValueFromJSON(purchasePrice float64, purchaseDate time.Time, rawSettings []byte, target time.Time) (float64, error) {
	settings, err := ParseSettings(rawSettings)
	if err != nil {
		return 0, err
	}
	return Value(purchasePrice, purchaseDate, settings, target)
}
