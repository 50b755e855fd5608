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

package twelvedata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
)

type timeSeriesValue struct {
	Datetime string      `json:"datetime"`
	Open     flexFloat64 `json:"open"`
	High     flexFloat64 `json:"high"`
	Low      flexFloat64 `json:"low"`
	Close    flexFloat64 `json:"close"`
	Volume   flexFloat64 `json:"volume"`
}

type timeSeriesEnvelope struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
		Currency string `json:"currency"`
		Exchange string `json:"exchange"`
		MicCode  string `json:"mic_code"`
	} `json:"meta"`
	Values  []timeSeriesValue `json:"values"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
}

const datetimeParam = "2006-01-02 15:04:05"

// TimeSeries downloads OHLCV history for one instrument over [start, end].
// The meta currency is stamped onto every bar; crypto pairs quoted as "A/B"
// fall back to the quote leg when the provider omits it.
func (c *Client) TimeSeries(ctx context.Context, symbol, venueCode, interval string, start, end time.Time) ([]*data.Bar, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "twelvedata.TimeSeries")
	defer span.End()

	subLog := log.With().Str("Symbol", symbol).Str("VenueCode", venueCode).Str("Interval", interval).Time("Start", start).Time("End", end).Logger()

	providerInterval, err := requestInterval(interval)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	if venueCode != "" {
		params.Set("mic_code", venueCode)
	}
	params.Set("interval", providerInterval)
	params.Set("format", "JSON")
	if !start.IsZero() {
		params.Set("start_date", start.UTC().Format(datetimeParam))
	}
	if !end.IsZero() {
		params.Set("end_date", end.UTC().Format(datetimeParam))
	}

	var envelope timeSeriesEnvelope
	if err := c.get(ctx, "/time_series", params, &envelope); err != nil {
		return nil, err
	}
	if err := envelopeError(envelope.Status, envelope.Message); err != nil {
		subLog.Warn().Err(err).Msg("provider rejected time series request")
		return nil, err
	}
	if envelope.Values == nil {
		return nil, fmt.Errorf("%w: time series response missing values for %s", ErrProvider, symbol)
	}

	currency := envelope.Meta.Currency
	if currency == "" {
		if _, quote, found := strings.Cut(symbol, "/"); found {
			currency = quote
		}
	}

	bars := make([]*data.Bar, 0, len(envelope.Values))
	for _, value := range envelope.Values {
		eventTime, err := parseDatetime(value.Datetime)
		if err != nil {
			subLog.Warn().Err(err).Str("Datetime", value.Datetime).Msg("dropping bar with unparseable datetime")
			continue
		}
		bars = append(bars, &data.Bar{
			Symbol:    symbol,
			VenueCode: venueCode,
			EventTime: eventTime,
			Interval:  interval,
			Open:      float64(value.Open),
			High:      float64(value.High),
			Low:       float64(value.Low),
			Close:     float64(value.Close),
			Volume:    float64(value.Volume),
			Currency:  currency,
		})
	}

	subLog.Debug().Int("NumBars", len(bars)).Msg("downloaded time series")
	return bars, nil
}
