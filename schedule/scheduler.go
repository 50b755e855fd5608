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

package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// Runner is the work a catalog job performs. Runs of the same job never
// overlap; a slow run causes the next tick to be skipped.
type Runner func(ctx context.Context) error

// Scheduler binds catalog entries to runner funcs and drives them with
// gocron. Every enabled job must have a runner registered before Start.
type Scheduler struct {
	catalog *Catalog
	cron    *gocron.Scheduler
	runners map[string]Runner
}

func NewScheduler(tz *time.Location, catalog *Catalog) *Scheduler {
	return &Scheduler{
		catalog: catalog,
		cron:    gocron.NewScheduler(tz),
		runners: make(map[string]Runner, len(catalog.Jobs)),
	}
}

// Register attaches a runner to a catalog job. Registering a name the
// catalog does not declare is a programming error and fails loudly.
func (scheduler *Scheduler) Register(name string, runner Runner) error {
	if _, err := scheduler.catalog.Get(name); err != nil {
		return err
	}
	scheduler.runners[name] = runner
	return nil
}

// Start validates that every enabled job has a runner, attaches them to the
// cron loop and begins execution. Startup jobs run once synchronously first
// so their data is in place before the server starts answering queries.
func (scheduler *Scheduler) Start(ctx context.Context) error {
	for _, job := range scheduler.catalog.Jobs {
		if !job.Enabled {
			log.Info().Str("Job", job.Name).Msg("job disabled in catalog; skipping")
			continue
		}

		runner, ok := scheduler.runners[job.Name]
		if !ok {
			return fmt.Errorf("%w: enabled job %s has no runner", ErrUnknownJob, job.Name)
		}

		run := instrument(job.Name, runner)
		if err := scheduler.attach(ctx, job, run); err != nil {
			return err
		}

		if job.Startup {
			run(ctx)
		}
	}

	scheduler.cron.StartAsync()
	return nil
}

// Stop halts the cron loop. In-flight runs finish; no new runs start.
func (scheduler *Scheduler) Stop() {
	scheduler.cron.Stop()
}

func (scheduler *Scheduler) attach(ctx context.Context, job *Job, run func(ctx context.Context)) error {
	task := func() {
		run(ctx)
	}

	if job.IsInterval() {
		every, err := job.Interval()
		if err != nil {
			return err
		}
		if _, err := scheduler.cron.Every(every).SingletonMode().Do(task); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrBadSpec, job.Name, err)
		}
		return nil
	}

	if _, err := scheduler.cron.Cron(job.Spec).SingletonMode().Do(task); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrBadSpec, job.Name, err)
	}
	return nil
}

// instrument wraps a runner with a trace span and timing log. Job errors
// are logged, never fatal; one bad provider response must not take the
// whole schedule down.
func instrument(name string, runner Runner) func(ctx context.Context) {
	return func(ctx context.Context) {
		runCtx, span := otel.Tracer(opentelemetry.Name).Start(ctx, fmt.Sprintf("job.%s", name))
		defer span.End()

		subLog := log.With().Str("Job", name).Logger()
		start := time.Now()
		if err := runner(runCtx); err != nil {
			span.RecordError(err)
			subLog.Error().Stack().Err(err).Dur("Runtime", time.Since(start)).Msg("job run failed")
			return
		}
		subLog.Info().Dur("Runtime", time.Since(start)).Msg("job run complete")
	}
}
