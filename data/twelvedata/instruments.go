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

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
)

type instrumentRecord struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Exchange string `json:"exchange"`
	MicCode  string `json:"mic_code"`
}

type instrumentsEnvelope struct {
	Data    []instrumentRecord `json:"data"`
	Status  string             `json:"status"`
	Message string             `json:"message"`
}

type cryptoRecord struct {
	Symbol             string   `json:"symbol"`
	AvailableExchanges []string `json:"available_exchanges"`
	CurrencyBase       string   `json:"currency_base"`
	CurrencyQuote      string   `json:"currency_quote"`
}

type cryptoEnvelope struct {
	Data    []cryptoRecord `json:"data"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
}

// Instruments downloads the provider's directory for one market-traded
// kind. Records without a full (symbol, venue) identity are dropped.
func (c *Client) Instruments(ctx context.Context, kind data.AssetKind) ([]*data.Instrument, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "twelvedata.Instruments")
	defer span.End()

	switch kind {
	case data.KindStocks:
		return c.listInstruments(ctx, "/stocks", kind)
	case data.KindETF:
		return c.listInstruments(ctx, "/etfs", kind)
	case data.KindCrypto:
		return c.listCrypto(ctx)
	}

	return nil, fmt.Errorf("%w: no directory for %q", data.ErrNotMarketTraded, kind)
}

func (c *Client) listInstruments(ctx context.Context, endpoint string, kind data.AssetKind) ([]*data.Instrument, error) {
	subLog := log.With().Str("Endpoint", endpoint).Logger()

	var envelope instrumentsEnvelope
	if err := c.get(ctx, endpoint, nil, &envelope); err != nil {
		return nil, err
	}
	if err := envelopeError(envelope.Status, envelope.Message); err != nil {
		subLog.Warn().Err(err).Msg("provider rejected directory request")
		return nil, err
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("%w: directory response missing data", ErrProvider)
	}

	instruments := make([]*data.Instrument, 0, len(envelope.Data))
	for _, record := range envelope.Data {
		if record.Symbol == "" || record.MicCode == "" {
			continue
		}
		instruments = append(instruments, &data.Instrument{
			Symbol:       record.Symbol,
			VenueCode:    record.MicCode,
			DisplayVenue: record.Exchange,
			Name:         record.Name,
			Country:      record.Country,
			Currency:     record.Currency,
			Kind:         string(kind),
		})
	}

	subLog.Info().Int("NumInstruments", len(instruments)).Msg("downloaded instrument directory")
	return instruments, nil
}

// listCrypto flattens the crypto directory: the venue is the first exchange
// the pair trades on and the currency is the quote leg.
func (c *Client) listCrypto(ctx context.Context) ([]*data.Instrument, error) {
	subLog := log.With().Str("Endpoint", "/cryptocurrencies").Logger()

	var envelope cryptoEnvelope
	if err := c.get(ctx, "/cryptocurrencies", nil, &envelope); err != nil {
		return nil, err
	}
	if err := envelopeError(envelope.Status, envelope.Message); err != nil {
		subLog.Warn().Err(err).Msg("provider rejected directory request")
		return nil, err
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("%w: directory response missing data", ErrProvider)
	}

	instruments := make([]*data.Instrument, 0, len(envelope.Data))
	for _, record := range envelope.Data {
		if record.Symbol == "" || len(record.AvailableExchanges) == 0 {
			continue
		}
		instruments = append(instruments, &data.Instrument{
			Symbol:       record.Symbol,
			VenueCode:    record.AvailableExchanges[0],
			DisplayVenue: record.AvailableExchanges[0],
			Name:         record.CurrencyBase,
			Currency:     record.CurrencyQuote,
			Kind:         string(data.KindCrypto),
		})
	}

	subLog.Info().Int("NumInstruments", len(instruments)).Msg("downloaded crypto directory")
	return instruments, nil
}
