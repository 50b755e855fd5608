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

// Package valuation maintains each user's portfolio statistic series. A
// rebuild runs up to three phases: backdate one point to the triggering
// asset's purchase date, recompute every point the new history can reprice,
// and append a point for right now. All statistics are stored in USD; assets
// held in another currency convert through the maintained rate table and are
// excluded from an instant when no direct rate exists.
package valuation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/pricing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// SeriesCacheKey names the cached statistic series payload for a user.
func SeriesCacheKey(userID string) string {
	return "statistics:" + userID
}

// SummaryCacheKey names the cached series summary payload for a user.
func SummaryCacheKey(userID string) string {
	return "summary:" + userID
}

var (
	userLocksMutex sync.Mutex
	userLocks      = map[string]*sync.Mutex{}
)

// userLock returns the mutex serializing rebuilds for one user. The
// statistics table is single-writer per user; everything else tolerates
// concurrent writers.
func userLock(userID string) *sync.Mutex {
	userLocksMutex.Lock()
	defer userLocksMutex.Unlock()

	mu, ok := userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		userLocks[userID] = mu
	}
	return mu
}

// RebuildUser recomputes the user's statistic series. With backwards set the
// series is extended back to the triggering asset's purchase date and every
// stored point from that date on is repriced against current bar history;
// the scheduled hourly pass only appends the current value. A user with no
// assets at all is skipped silently.
func RebuildUser(ctx context.Context, userID string, backwards bool) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "valuation.RebuildUser")
	defer span.End()

	if userID == "" {
		return data.ErrEmptyUserID
	}

	mu := userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	subLog := log.With().Str("UserID", userID).Bool("Backwards", backwards).Logger()

	hasAssets, err := data.UserHasAssets(ctx, userID)
	if err != nil {
		return err
	}
	if !hasAssets {
		subLog.Debug().Msg("user holds no assets; nothing to rebuild")
		return nil
	}

	active, err := data.ActiveAssetsForUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := refreshPrices(ctx, active); err != nil {
		// fall through; every phase has a purchase price fallback
		subLog.Warn().Stack().Err(err).Msg("current price refresh incomplete")
	}

	mutated := false
	var firstErr error

	// most recently updated asset drives how far back the series extends
	var trigger *data.Asset
	if len(active) > 0 {
		trigger = active[0]
	}

	if backwards {
		n, err := rebuildHistory(ctx, userID, trigger)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		mutated = mutated || n > 0
	}

	inserted, err := appendCurrent(ctx, userID, active)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	mutated = mutated || inserted

	if mutated {
		common.CacheDel(SeriesCacheKey(userID))
		common.CacheDel(SummaryCacheKey(userID))
	}

	subLog.Debug().Bool("Mutated", mutated).Msg("rebuild finished")
	return firstErr
}

// rebuildHistory runs the backdate and recompute phases, returning how many
// points were written. With no active assets there is nothing to anchor a
// backdated point on, so only the stored points are repriced.
func rebuildHistory(ctx context.Context, userID string, trigger *data.Asset) (int, error) {
	var series []*data.Statistic
	var err error

	written := 0
	var firstErr error

	if trigger != nil {
		day := trigger.PurchaseDate.UTC()
		anchor := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

		series, err = data.StatisticsOnOrAfter(ctx, userID, anchor)
		if err != nil {
			return 0, err
		}

		if len(series) == 0 || series[0].EventTime.After(anchor) {
			stat, err := backdatedPoint(ctx, userID, anchor, trigger)
			if err != nil {
				firstErr = err
			} else if err := data.UpsertStatistic(ctx, stat); err != nil {
				firstErr = err
			} else {
				written++
			}
		}
	} else {
		series, err = data.UserStatistics(ctx, userID)
		if err != nil {
			return 0, err
		}
	}

	for _, row := range series {
		assets, err := data.AssetsAsOf(ctx, userID, row.EventTime)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		stat := valueAssetsAt(ctx, userID, row.EventTime, assets, nil)
		if err := data.UpsertStatistic(ctx, stat); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written++
	}

	return written, firstErr
}

// backdatedPoint values the portfolio at the anchor day. The triggering
// asset had no bar history when it was recorded, so it contributes its
// purchase price; everything else held on that day prices normally.
func backdatedPoint(ctx context.Context, userID string, anchor time.Time, trigger *data.Asset) (*data.Statistic, error) {
	assets, err := data.AssetsAsOf(ctx, userID, anchor)
	if err != nil {
		return nil, err
	}

	held := false
	for _, asset := range assets {
		if asset.ID == trigger.ID {
			held = true
			break
		}
	}
	// a mid-day purchase postdates the midnight anchor; include it anyway
	if !held {
		assets = append(assets, trigger)
	}

	return valueAssetsAt(ctx, userID, anchor, assets, trigger), nil
}

// appendCurrent writes the portfolio's present value from cached prices.
// The point is skipped when the total matches the newest stored statistic,
// so an idle portfolio does not accrete identical rows every hour.
func appendCurrent(ctx context.Context, userID string, active []*data.Asset) (bool, error) {
	now := time.Now().UTC()

	total := 0.0
	distribution := map[string]float64{}
	for _, asset := range active {
		value := asset.CurrentOrPurchase() * asset.Quantity
		converted, err := data.ConvertCurrency(value, asset.EffectiveCurrency(), "USD")
		if err != nil {
			log.Warn().Stack().Err(err).Str("AssetID", asset.ID.String()).Str("Currency", asset.Currency).
				Msg("asset excluded from valuation; no conversion rate")
			continue
		}
		total += converted
		distribution[string(asset.Kind)] += converted
	}

	latest, err := data.LatestStatistic(ctx, userID)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		return false, err
	}
	if latest != nil && latest.TotalValue == total {
		return false, nil
	}

	stat := &data.Statistic{
		UserID:       userID,
		EventTime:    now,
		TotalValue:   total,
		Distribution: distribution,
	}
	if err := data.UpsertStatistic(ctx, stat); err != nil {
		return false, err
	}
	return true, nil
}

// valueAssetsAt prices each asset at t and accumulates the total and the
// per-class distribution. The trigger, when set, contributes its purchase
// price instead of reading bar history. Assets the bond engine or the rate
// table cannot value are excluded from this instant only.
func valueAssetsAt(ctx context.Context, userID string, t time.Time, assets []*data.Asset, trigger *data.Asset) *data.Statistic {
	total := 0.0
	distribution := map[string]float64{}

	for _, asset := range assets {
		var value float64
		if trigger != nil && asset.ID == trigger.ID {
			value = asset.PurchasePrice * asset.Quantity
		} else {
			v, err := pricing.PositionValueAt(ctx, asset, t)
			if err != nil {
				if !errors.Is(err, data.ErrNoPrice) {
					log.Warn().Stack().Err(err).Str("AssetID", asset.ID.String()).Time("EventTime", t).
						Msg("asset excluded from valuation")
					continue
				}
				v = asset.PurchasePrice * asset.Quantity
			}
			value = v
		}

		converted, err := data.ConvertCurrency(value, asset.EffectiveCurrency(), "USD")
		if err != nil {
			log.Warn().Stack().Err(err).Str("AssetID", asset.ID.String()).Str("Currency", asset.Currency).
				Msg("asset excluded from valuation; no conversion rate")
			continue
		}

		total += converted
		distribution[string(asset.Kind)] += converted
	}

	return &data.Statistic{
		UserID:       userID,
		EventTime:    t,
		TotalValue:   total,
		Distribution: distribution,
	}
}

// RebuildAll refreshes every user's series concurrently. One user failing
// never cancels the others; the first error surfaces after all finish.
func RebuildAll(ctx context.Context) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "valuation.RebuildAll")
	defer span.End()

	users, err := data.DistinctUserIDs(ctx)
	if err != nil {
		return err
	}

	var group errgroup.Group
	for _, userID := range users {
		userID := userID
		group.Go(func() error {
			if err := RebuildUser(ctx, userID, false); err != nil {
				log.Error().Stack().Err(err).Str("UserID", userID).Msg("user rebuild failed")
				return err
			}
			return nil
		})
	}

	err = group.Wait()
	log.Info().Int("NumUsers", len(users)).Msg("portfolio rebuild pass finished")
	return err
}
