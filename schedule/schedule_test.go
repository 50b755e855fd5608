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

package schedule_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/folio-vault/fv-api/schedule"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Catalog", func() {
	var (
		catalog *schedule.Catalog
		err     error
		nyc     *time.Location
	)

	BeforeEach(func() {
		catalog, err = schedule.LoadCatalog()
		Expect(err).To(BeNil())

		nyc, err = time.LoadLocation("America/New_York")
		Expect(err).To(BeNil())
	})

	Context("with the embedded catalog", func() {
		It("declares the full job fleet", func() {
			names := make([]string, 0, len(catalog.Jobs))
			for _, job := range catalog.Jobs {
				names = append(names, job.Name)
			}
			Expect(names).To(ConsistOf("directory-refresh", "fx-refresh",
				"hourly-bars", "price-refresh", "rebuild-all", "daily-close",
				"retention-purge"))
		})

		It("enables every job", func() {
			for _, job := range catalog.Jobs {
				Expect(job.Enabled).To(BeTrue(), job.Name)
			}
		})

		It("runs only the directory refresh at startup", func() {
			for _, job := range catalog.Jobs {
				Expect(job.Startup).To(Equal(job.Name == "directory-refresh"), job.Name)
			}
		})

		DescribeTable("interval cadences",
			func(name string, expected time.Duration) {
				job, err := catalog.Get(name)
				Expect(err).To(BeNil())
				Expect(job.IsInterval()).To(BeTrue())
				every, err := job.Interval()
				Expect(err).To(BeNil())
				Expect(every).To(Equal(expected))
			},
			Entry("directory refresh is weekly", "directory-refresh", 168*time.Hour),
			Entry("fx refresh is daily", "fx-refresh", 24*time.Hour),
			Entry("hourly bars run hourly", "hourly-bars", time.Hour),
			Entry("price refresh runs hourly", "price-refresh", time.Hour),
			Entry("rebuild runs hourly", "rebuild-all", time.Hour),
		)

		DescribeTable("wall-clock cadences",
			func(name string, after time.Time, expected time.Time) {
				job, err := catalog.Get(name)
				Expect(err).To(BeNil())
				Expect(job.IsInterval()).To(BeFalse())
				Expect(job.NextRun(after)).To(BeTemporally("==", expected))
			},
			Entry("daily close fires at 18:00 local",
				"daily-close",
				time.Date(2022, 3, 15, 10, 0, 0, 0, time.UTC),
				time.Date(2022, 3, 15, 18, 0, 0, 0, time.UTC)),
			Entry("daily close rolls to tomorrow after 18:00",
				"daily-close",
				time.Date(2022, 3, 15, 19, 0, 0, 0, time.UTC),
				time.Date(2022, 3, 16, 18, 0, 0, 0, time.UTC)),
			Entry("retention purge fires at 02:00 local",
				"retention-purge",
				time.Date(2022, 3, 15, 1, 0, 0, 0, time.UTC),
				time.Date(2022, 3, 15, 2, 0, 0, 0, time.UTC)),
		)

		It("evaluates wall-clock cadences in the given location", func() {
			job, err := catalog.Get("daily-close")
			Expect(err).To(BeNil())
			after := time.Date(2022, 3, 15, 10, 0, 0, 0, nyc)
			next := job.NextRun(after)
			Expect(next.Hour()).To(Equal(18))
			Expect(next.Location()).To(Equal(nyc))
		})

		It("errors on unknown job names", func() {
			_, err := catalog.Get("quarterly-rebalance")
			Expect(err).To(MatchError(schedule.ErrUnknownJob))
		})

		It("refuses to report an interval for wall-clock jobs", func() {
			job, err := catalog.Get("daily-close")
			Expect(err).To(BeNil())
			_, err = job.Interval()
			Expect(err).To(MatchError(schedule.ErrBadSpec))
		})
	})

	DescribeTable("rejecting malformed catalogs",
		func(raw string, expected error) {
			_, err := schedule.ParseCatalog([]byte(raw))
			Expect(err).To(MatchError(expected))
		},
		Entry("unparseable cadence",
			"[[jobs]]\nname = \"broken\"\nspec = \"whenever\"\nenabled = true\n",
			schedule.ErrBadSpec),
		Entry("six-field cron spec",
			"[[jobs]]\nname = \"broken\"\nspec = \"0 0 18 * * *\"\nenabled = true\n",
			schedule.ErrBadSpec),
		Entry("missing name",
			"[[jobs]]\nspec = \"@every 1h\"\nenabled = true\n",
			schedule.ErrBadSpec),
		Entry("duplicate names",
			"[[jobs]]\nname = \"twice\"\nspec = \"@every 1h\"\n\n[[jobs]]\nname = \"twice\"\nspec = \"@every 2h\"\n",
			schedule.ErrDuplicateJob),
	)
})

var _ = Describe("Scheduler", func() {
	var tz *time.Location

	BeforeEach(func() {
		var err error
		tz, err = time.LoadLocation("America/New_York")
		Expect(err).To(BeNil())
	})

	Context("when starting", func() {
		It("runs startup jobs once before the first tick", func() {
			catalog, err := schedule.ParseCatalog([]byte(
				"[[jobs]]\nname = \"warm\"\nspec = \"@every 1h\"\nenabled = true\nstartup = true\n"))
			Expect(err).To(BeNil())

			var runs int64
			scheduler := schedule.NewScheduler(tz, catalog)
			err = scheduler.Register("warm", func(_ context.Context) error {
				atomic.AddInt64(&runs, 1)
				return nil
			})
			Expect(err).To(BeNil())

			Expect(scheduler.Start(context.Background())).To(Succeed())
			defer scheduler.Stop()
			Expect(atomic.LoadInt64(&runs)).To(BeEquivalentTo(1))
		})

		It("fails when an enabled job has no runner", func() {
			catalog, err := schedule.ParseCatalog([]byte(
				"[[jobs]]\nname = \"orphan\"\nspec = \"@every 1h\"\nenabled = true\n"))
			Expect(err).To(BeNil())

			scheduler := schedule.NewScheduler(tz, catalog)
			Expect(scheduler.Start(context.Background())).To(MatchError(schedule.ErrUnknownJob))
		})

		It("skips disabled jobs entirely", func() {
			catalog, err := schedule.ParseCatalog([]byte(
				"[[jobs]]\nname = \"parked\"\nspec = \"@every 1h\"\nenabled = false\nstartup = true\n"))
			Expect(err).To(BeNil())

			scheduler := schedule.NewScheduler(tz, catalog)
			Expect(scheduler.Start(context.Background())).To(Succeed())
			scheduler.Stop()
		})
	})

	Context("when registering runners", func() {
		It("rejects names the catalog does not declare", func() {
			catalog, err := schedule.ParseCatalog([]byte(
				"[[jobs]]\nname = \"real\"\nspec = \"@every 1h\"\nenabled = true\n"))
			Expect(err).To(BeNil())

			scheduler := schedule.NewScheduler(tz, catalog)
			err = scheduler.Register("imaginary", func(_ context.Context) error { return nil })
			Expect(err).To(MatchError(schedule.ErrUnknownJob))
		})
	})
})
