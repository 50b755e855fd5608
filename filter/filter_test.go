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

package filter_test

import (
	"github.com/folio-vault/fv-api/filter"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BuildQuery", func() {
	Context("with passed parameters", func() {
		It("errors for no 'from'", func() {
			_, _, err := filter.BuildQuery("", nil, nil, nil, "")
			Expect(err).To(MatchError(filter.ErrEmptyFrom))
		})

		It("escapes select identifiers", func() {
			fields := []string{"a\"a", "b"}
			sql, _, err := filter.BuildQuery("my_table", fields, nil, nil, "event_time DESC")
			Expect(err).To(BeNil())
			Expect(sql).To(Equal(`select "a""a", "b" from "my_table" order by event_time DESC`))
		})

		It("escapes the from identifier", func() {
			sql, _, err := filter.BuildQuery("my_\"table", []string{"a"}, nil, nil, "event_time DESC")
			Expect(err).To(BeNil())
			Expect(sql).To(Equal(`select "a" from "my_""table" order by event_time DESC`))
		})

		It("appends safe fields verbatim", func() {
			safe := []string{`total_value as "totalValue"`}
			sql, _, err := filter.BuildQuery("statistics", []string{"distribution"}, safe, nil, "event_time ASC")
			Expect(err).To(BeNil())
			Expect(sql).To(Equal(`select "distribution", total_value as "totalValue" from "statistics" order by event_time ASC`))
		})
	})

	Context("with where clauses", func() {
		It("binds values as positional arguments", func() {
			where := map[string][]string{"symbol": {"eq.AAPL"}}
			sql, args, err := filter.BuildQuery("ohlcv_bars", []string{"close"}, nil, where, "")
			Expect(err).To(BeNil())
			Expect(sql).To(ContainSubstring(`"symbol" = $1`))
			Expect(args).To(Equal([]interface{}{"AAPL"}))
		})

		It("supports several clauses on one column", func() {
			where := map[string][]string{
				"event_time": {"gte.2022-01-01T00:00:00Z", "lte.2022-01-08T00:00:00Z"},
			}
			sql, args, err := filter.BuildQuery("ohlcv_bars", []string{"close"}, nil, where, "")
			Expect(err).To(BeNil())
			Expect(sql).To(ContainSubstring(`"event_time" >= $1`))
			Expect(sql).To(ContainSubstring(`"event_time" <= $2`))
			Expect(args).To(HaveLen(2))
		})

		It("orders columns deterministically", func() {
			where := map[string][]string{
				"venue_code": {"eq.XNAS"},
				"symbol":     {"eq.AAPL"},
				"interval":   {"eq.1day"},
			}
			_, args, err := filter.BuildQuery("ohlcv_bars", []string{"close"}, nil, where, "")
			Expect(err).To(BeNil())
			// sorted column order: interval, symbol, venue_code
			Expect(args).To(Equal([]interface{}{"1day", "AAPL", "XNAS"}))
		})

		It("keeps values out of the query text", func() {
			where := map[string][]string{"symbol": {"eq.AAPL'; DROP TABLE ohlcv_bars; --"}}
			sql, _, err := filter.BuildQuery("ohlcv_bars", []string{"close"}, nil, where, "")
			Expect(err).To(BeNil())
			Expect(sql).NotTo(ContainSubstring("DROP TABLE"))
		})

		It("rejects malformed clauses", func() {
			where := map[string][]string{"symbol": {"AAPL"}}
			_, _, err := filter.BuildQuery("ohlcv_bars", []string{"close"}, nil, where, "")
			Expect(err).To(MatchError(filter.ErrBadWhereClause))
		})

		It("rejects unknown operators", func() {
			where := map[string][]string{"symbol": {"matches.AAPL"}}
			_, _, err := filter.BuildQuery("ohlcv_bars", []string{"close"}, nil, where, "")
			Expect(err).To(MatchError(filter.ErrUnknownOp))
		})
	})
})
