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

// Package pricing resolves what a single unit of an asset was worth at any
// instant. It only ever reads the bar store; callers own every write.
package pricing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/folio-vault/fv-api/bond"
	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
)

// PriceAt returns the unit price of the asset at the target instant in the
// asset's own currency. Market kinds read the newest bar at or before t on
// any interval and surface ErrNoPrice when history does not reach that far;
// bonds accrue to t; savings, real estate, and other carry book value.
func PriceAt(ctx context.Context, asset *data.Asset, t time.Time) (float64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pricing.PriceAt")
	defer span.End()

	switch {
	case asset.Kind.MarketTraded():
		bar, err := data.LatestBarOnOrBefore(ctx, asset.Symbol, asset.VenueCode, t)
		if err != nil {
			return 0, err
		}
		return bar.Close, nil
	case asset.Kind == data.KindBonds:
		return bond.ValueFromJSON(asset.PurchasePrice, asset.PurchaseDate, asset.BondSettings, t)
	}

	return asset.PurchasePrice, nil
}

// PositionValueAt is PriceAt scaled by the position's quantity, still in the
// asset's currency.
func PositionValueAt(ctx context.Context, asset *data.Asset, t time.Time) (float64, error) {
	price, err := PriceAt(ctx, asset, t)
	if err != nil {
		return 0, err
	}
	return price * asset.Quantity, nil
}
