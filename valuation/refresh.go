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

package valuation

import (
	"context"
	"errors"
	"time"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/pricing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// RefreshUserPrices recomputes current_price for the user's active market
// and bond positions. Book-value kinds never change without a user edit, so
// they are left untouched.
func RefreshUserPrices(ctx context.Context, userID string) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "valuation.RefreshUserPrices")
	defer span.End()

	assets, err := data.ActiveAssetsForUser(ctx, userID)
	if err != nil {
		return err
	}

	return refreshPrices(ctx, assets)
}

// RefreshAllPrices runs the current price refresh for every user.
func RefreshAllPrices(ctx context.Context) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "valuation.RefreshAllPrices")
	defer span.End()

	users, err := data.DistinctUserIDs(ctx)
	if err != nil {
		return err
	}

	var group errgroup.Group
	for _, userID := range users {
		userID := userID
		group.Go(func() error {
			if err := RefreshUserPrices(ctx, userID); err != nil {
				log.Warn().Stack().Err(err).Str("UserID", userID).Msg("price refresh failed")
				return err
			}
			return nil
		})
	}
	return group.Wait()
}

// refreshPrices writes fresh prices both to the asset rows and to the
// in-memory structs so a rebuild in the same pass sees them.
func refreshPrices(ctx context.Context, assets []*data.Asset) error {
	now := time.Now().UTC()

	var firstErr error
	for _, asset := range assets {
		if !asset.Kind.MarketTraded() && asset.Kind != data.KindBonds {
			continue
		}

		price, err := pricing.PriceAt(ctx, asset, now)
		if err != nil {
			if errors.Is(err, data.ErrNoPrice) {
				// nothing ingested yet; the purchase price fallback covers it
				continue
			}
			log.Warn().Stack().Err(err).Str("AssetID", asset.ID.String()).Msg("could not price asset")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := data.SetCurrentPrice(ctx, asset.ID, price); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		asset.CurrentPrice = &price
	}

	return firstErr
}
