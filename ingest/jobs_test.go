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

package ingest_test

import (
	"context"
	"net/http"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/spf13/viper"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/database"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/ingest"
	"github.com/folio-vault/fv-api/pgxmockhelper"
)

var _ = Describe("Jobs", func() {
	var (
		ctx    context.Context
		client *twelvedata.Client
		dbPool pgxmock.PgxConnIface
	)

	BeforeEach(func() {
		ctx = context.Background()

		httpClient := &http.Client{}
		httpmock.ActivateNonDefault(httpClient)

		client = twelvedata.New(
			twelvedata.WithToken("TEST"),
			twelvedata.WithBaseURL("https://api.twelvedata.com"),
			twelvedata.WithHTTPClient(httpClient),
			twelvedata.WithRateEvery(time.Millisecond),
		)

		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
		viper.Set("fx.pairs", nil)
	})

	Describe("RefreshDirectory", func() {
		It("refreshes every provider kind", func() {
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/stocks?apikey=TEST",
				httpmock.NewStringResponder(200, `{"data": [
					{"symbol": "AAPL", "name": "Apple Inc", "country": "United States",
					 "currency": "USD", "exchange": "NASDAQ", "mic_code": "XNAS"}
				]}`))
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/etfs?apikey=TEST",
				httpmock.NewStringResponder(200, `{"data": [
					{"symbol": "SPY", "name": "SPDR S&P 500 ETF", "country": "United States",
					 "currency": "USD", "exchange": "NYSE", "mic_code": "ARCX"}
				]}`))
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/cryptocurrencies?apikey=TEST",
				httpmock.NewStringResponder(200, `{"data": [
					{"symbol": "BTC/USD", "available_exchanges": ["Binance"],
					 "currency_base": "Bitcoin", "currency_quote": "USD"}
				]}`))

			pgxmockhelper.MockInstrumentUpsert(dbPool, 1)
			pgxmockhelper.MockInstrumentUpsert(dbPool, 1)
			pgxmockhelper.MockInstrumentUpsert(dbPool, 1)

			Expect(ingest.RefreshDirectory(ctx, client)).To(Succeed())
			Expect(httpmock.GetTotalCallCount()).To(Equal(3))
		})

		It("keeps going when one kind fails", func() {
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/stocks?apikey=TEST",
				httpmock.NewStringResponder(500, `{"status": "error", "message": "server error"}`))
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/etfs?apikey=TEST",
				httpmock.NewStringResponder(200, `{"data": [
					{"symbol": "SPY", "name": "SPDR S&P 500 ETF", "country": "United States",
					 "currency": "USD", "exchange": "NYSE", "mic_code": "ARCX"}
				]}`))
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/cryptocurrencies?apikey=TEST",
				httpmock.NewStringResponder(200, `{"data": [
					{"symbol": "BTC/USD", "available_exchanges": ["Binance"],
					 "currency_base": "Bitcoin", "currency_quote": "USD"}
				]}`))

			pgxmockhelper.MockInstrumentUpsert(dbPool, 1)
			pgxmockhelper.MockInstrumentUpsert(dbPool, 1)

			err := ingest.RefreshDirectory(ctx, client)
			Expect(err).To(MatchError(twelvedata.ErrProvider))
			Expect(httpmock.GetTotalCallCount()).To(Equal(3))
		})
	})

	Describe("RefreshFx", func() {
		It("stores each configured pair and rehydrates the conversion table", func() {
			viper.Set("fx.pairs", []string{"USD/EUR", "EUR/USD"})

			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/exchange_rate?apikey=TEST&symbol=USD%2FEUR",
				httpmock.NewStringResponder(200, `{"symbol": "USD/EUR", "rate": 0.92, "timestamp": 1705276800}`))
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/exchange_rate?apikey=TEST&symbol=EUR%2FUSD",
				httpmock.NewStringResponder(200, `{"symbol": "EUR/USD", "rate": 1.09, "timestamp": 1705276800}`))

			pgxmockhelper.MockFxUpsert(dbPool, "USD", "EUR", 0.92)
			pgxmockhelper.MockFxUpsert(dbPool, "EUR", "USD", 1.09)
			pgxmockhelper.MockFxHydrate(dbPool,
				&data.FxRate{SourceCcy: "USD", TargetCcy: "EUR", Rate: 0.92},
				&data.FxRate{SourceCcy: "EUR", TargetCcy: "USD", Rate: 1.09})

			Expect(ingest.RefreshFx(ctx, client)).To(Succeed())

			converted, err := data.ConvertCurrency(100, "USD", "EUR")
			Expect(err).To(BeNil())
			Expect(converted).To(Equal(92.0))
		})

		It("fetches the default pair catalog when none is configured", func() {
			httpmock.RegisterResponder("GET", `=~exchange_rate`,
				httpmock.NewStringResponder(200, `{"symbol": "X/Y", "rate": 0.9, "timestamp": 1705276800}`))

			pgxmockhelper.MockFxUpsert(dbPool, "USD", "EUR", 0.9)
			pgxmockhelper.MockFxUpsert(dbPool, "EUR", "USD", 0.9)
			pgxmockhelper.MockFxUpsert(dbPool, "USD", "GBP", 0.9)
			pgxmockhelper.MockFxUpsert(dbPool, "GBP", "USD", 0.9)
			pgxmockhelper.MockFxUpsert(dbPool, "USD", "PLN", 0.9)
			pgxmockhelper.MockFxUpsert(dbPool, "PLN", "USD", 0.9)
			pgxmockhelper.MockFxHydrate(dbPool)

			Expect(ingest.RefreshFx(ctx, client)).To(Succeed())
			Expect(httpmock.GetTotalCallCount()).To(Equal(len(ingest.DefaultFxPairs)))
		})

		It("skips pairs the provider rejects and hydrates anyway", func() {
			viper.Set("fx.pairs", []string{"USD/EUR", "EUR/USD"})

			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/exchange_rate?apikey=TEST&symbol=USD%2FEUR",
				httpmock.NewStringResponder(200, `{"status": "error", "code": 429, "message": "out of API credits"}`))
			httpmock.RegisterResponder("GET", "https://api.twelvedata.com/exchange_rate?apikey=TEST&symbol=EUR%2FUSD",
				httpmock.NewStringResponder(200, `{"symbol": "EUR/USD", "rate": 1.09, "timestamp": 1705276800}`))

			pgxmockhelper.MockFxUpsert(dbPool, "EUR", "USD", 1.09)
			pgxmockhelper.MockFxHydrate(dbPool,
				&data.FxRate{SourceCcy: "EUR", TargetCcy: "USD", Rate: 1.09})

			err := ingest.RefreshFx(ctx, client)
			Expect(err).To(MatchError(twelvedata.ErrProvider))

			converted, convErr := data.ConvertCurrency(109, "EUR", "USD")
			Expect(convErr).To(BeNil())
			Expect(converted).To(BeNumerically("~", 118.81, 1e-9))
		})
	})

	Describe("FetchLatestHourly", func() {
		It("upserts the trailing hour for every active listing", func() {
			pgxmockhelper.MockMarketIdentities(dbPool,
				data.MarketID{Symbol: "AAPL", VenueCode: "XNAS"},
				data.MarketID{Symbol: "ETH/USD", VenueCode: "Binance"})

			httpmock.RegisterResponder("GET", `=~time_series`,
				httpmock.NewStringResponder(200, `{
					"meta": {"currency": "USD"},
					"values": [
						{"datetime": "2024-01-15 14:00:00", "open": "100", "high": "101", "low": "99", "close": "100.5", "volume": "1000"},
						{"datetime": "2024-01-15 15:00:00", "open": "100.5", "high": "102", "low": "100", "close": "101.5", "volume": "1200"}
					]}`))

			pgxmockhelper.MockBarUpsert(dbPool, 2)
			pgxmockhelper.MockBarUpsert(dbPool, 2)

			Expect(ingest.FetchLatestHourly(ctx, client)).To(Succeed())
			Expect(httpmock.GetTotalCallCount()).To(Equal(2))
		})

		It("continues past a listing the provider rejects", func() {
			pgxmockhelper.MockMarketIdentities(dbPool,
				data.MarketID{Symbol: "AAPL", VenueCode: "XNAS"},
				data.MarketID{Symbol: "MSFT", VenueCode: "XNAS"})

			httpmock.RegisterResponder("GET", `=~symbol=AAPL$`,
				httpmock.NewStringResponder(500, `{"status": "error", "message": "server error"}`))
			httpmock.RegisterResponder("GET", `=~symbol=MSFT$`,
				httpmock.NewStringResponder(200, `{
					"meta": {"currency": "USD"},
					"values": [
						{"datetime": "2024-01-15 14:00:00", "open": "370", "high": "372", "low": "369", "close": "371", "volume": "900"}
					]}`))

			pgxmockhelper.MockBarUpsert(dbPool, 1)

			err := ingest.FetchLatestHourly(ctx, client)
			Expect(err).To(MatchError(twelvedata.ErrProvider))
			Expect(httpmock.GetTotalCallCount()).To(Equal(2))
		})
	})

	Describe("FetchDailyClose", func() {
		It("requests daily bars for active listings", func() {
			pgxmockhelper.MockMarketIdentities(dbPool,
				data.MarketID{Symbol: "AAPL", VenueCode: "XNAS"})

			// only a 1day responder: an hourly request would find no match
			httpmock.RegisterResponder("GET", `=~interval=1day`,
				httpmock.NewStringResponder(200, `{
					"meta": {"currency": "USD"},
					"values": [
						{"datetime": "2024-01-15", "open": "184", "high": "186", "low": "183", "close": "185.2", "volume": "50000000"}
					]}`))

			pgxmockhelper.MockBarUpsert(dbPool, 1)

			Expect(ingest.FetchDailyClose(ctx, client)).To(Succeed())
		})
	})

	Describe("PurgeStaleBars", func() {
		It("deletes hourly bars past the retention horizon", func() {
			pgxmockhelper.MockPurge(dbPool, data.IntervalHourly, 42)
			Expect(ingest.PurgeStaleBars(ctx)).To(Succeed())
		})
	})
})
