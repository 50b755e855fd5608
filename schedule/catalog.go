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

// Package schedule runs the background job fleet. The job set is declared in
// an embedded TOML catalog rather than scattered across call sites so the
// whole schedule is inspectable in one place (fvapi jobs) and validated at
// startup. Cadences use cron syntax: either "@every <duration>" or a
// five-field spec evaluated in the operator's timezone.
package schedule

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

//go:embed jobs.toml
var rawCatalog []byte

var (
	ErrUnknownJob   = errors.New("job is not declared in the catalog")
	ErrBadSpec      = errors.New("job spec does not parse")
	ErrDuplicateJob = errors.New("job is declared twice")
)

// specParser accepts the two cadence forms the catalog uses. The five cron
// fields follow the standard order: minute, hour, day of month, month, day
// of week. The Descriptor flag enables "@every <duration>".
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one catalog entry. Startup jobs additionally run once as soon as
// the scheduler starts, before their first scheduled tick.
type Job struct {
	Name        string `toml:"name"`
	Spec        string `toml:"spec"`
	Description string `toml:"description"`
	Enabled     bool   `toml:"enabled"`
	Startup     bool   `toml:"startup"`

	schedule cron.Schedule
}

type Catalog struct {
	Jobs []*Job `toml:"jobs"`
}

// LoadCatalog parses and validates the embedded job catalog. Any
// unparseable cadence fails the whole load; a bad schedule should stop the
// process at startup, not surface as a job that silently never fires.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(rawCatalog)
}

// ParseCatalog parses a TOML job catalog and validates every cadence.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var catalog Catalog
	if err := toml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSpec, err)
	}

	seen := make(map[string]bool, len(catalog.Jobs))
	for _, job := range catalog.Jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("%w: catalog entry without a name", ErrBadSpec)
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
		}
		seen[job.Name] = true

		schedule, err := specParser.Parse(job.Spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (%q): %s", ErrBadSpec, job.Name, job.Spec, err)
		}
		job.schedule = schedule
	}

	return &catalog, nil
}

// Get returns the named catalog entry.
func (catalog *Catalog) Get(name string) (*Job, error) {
	for _, job := range catalog.Jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// NextRun computes when the job fires next after the given instant,
// evaluated in that instant's location.
func (job *Job) NextRun(after time.Time) time.Time {
	return job.schedule.Next(after)
}

// IsInterval reports whether the cadence is an "@every" interval rather
// than a wall-clock cron expression.
func (job *Job) IsInterval() bool {
	return strings.HasPrefix(job.Spec, "@every ")
}

// Interval returns the duration of an "@every" cadence.
func (job *Job) Interval() (time.Duration, error) {
	if !job.IsInterval() {
		return 0, fmt.Errorf("%w: %s is not an interval job", ErrBadSpec, job.Name)
	}
	return time.ParseDuration(strings.TrimPrefix(job.Spec, "@every "))
}
