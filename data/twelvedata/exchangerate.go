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

type exchangeRateEnvelope struct {
	Symbol    string      `json:"symbol"`
	Rate      flexFloat64 `json:"rate"`
	Timestamp int64       `json:"timestamp"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
}

// ExchangeRate fetches the current quote for a currency pair spelled
// "SRC/TGT". The provider timestamp is epoch seconds.
func (c *Client) ExchangeRate(ctx context.Context, pair string) (*data.FxRate, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "twelvedata.ExchangeRate")
	defer span.End()

	subLog := log.With().Str("Pair", pair).Logger()

	source, target, found := strings.Cut(pair, "/")
	if !found || source == "" || target == "" {
		return nil, fmt.Errorf("%w: malformed currency pair %q", ErrProvider, pair)
	}

	params := url.Values{}
	params.Set("symbol", pair)

	var envelope exchangeRateEnvelope
	if err := c.get(ctx, "/exchange_rate", params, &envelope); err != nil {
		return nil, err
	}
	if err := envelopeError(envelope.Status, envelope.Message); err != nil {
		subLog.Warn().Err(err).Msg("provider rejected exchange rate request")
		return nil, err
	}
	if envelope.Symbol == "" || envelope.Rate == 0 || envelope.Timestamp == 0 {
		return nil, fmt.Errorf("%w: incomplete exchange rate for %s", ErrProvider, pair)
	}

	return &data.FxRate{
		SourceCcy: strings.ToUpper(source),
		TargetCcy: strings.ToUpper(target),
		Rate:      float64(envelope.Rate),
		FetchedAt: time.Unix(envelope.Timestamp, 0).UTC(),
	}, nil
}
