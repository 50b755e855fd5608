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

package cmd

import (
	"os"
	"strconv"
	"time"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/schedule"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the background job catalog and next run times",
	Run: func(_ *cobra.Command, _ []string) {
		common.SetupLogging()

		catalog, err := schedule.LoadCatalog()
		if err != nil {
			log.Fatal().Err(err).Msg("could not load job catalog")
		}

		now := time.Now().In(common.GetTimezone())

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "Spec", "Enabled", "Startup", "Next Run", "Description"})
		for _, job := range catalog.Jobs {
			next := "-"
			if job.Enabled {
				next = job.NextRun(now).Format("2006-01-02 15:04 MST")
			}
			table.Append([]string{
				job.Name,
				job.Spec,
				strconv.FormatBool(job.Enabled),
				strconv.FormatBool(job.Startup),
				next,
				job.Description,
			})
		}
		table.Render()
	},
}
