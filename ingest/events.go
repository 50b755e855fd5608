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

package ingest

import (
	"bytes"
	"context"
	"errors"

	"github.com/folio-vault/fv-api/data"
	"github.com/folio-vault/fv-api/data/twelvedata"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/valuation"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// Asset lifecycle handlers. The upstream system of record calls these after
// it commits an asset row; they bring bar history up to date and then rebuild
// the owner's statistic series. History problems never block the rebuild
// since valuation falls back to the purchase price.

// OnAssetCreated backfills price history for a new position and extends the
// owner's statistic series back to its purchase date.
func OnAssetCreated(ctx context.Context, client *twelvedata.Client, asset *data.Asset) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.OnAssetCreated")
	defer span.End()

	firstErr := ensureHistory(ctx, client, asset)
	if err := valuation.RebuildUser(ctx, asset.UserID, true); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// OnAssetMutated refetches history only when the edit moved the asset's
// market identity; a quantity or price edit reuses the bars already stored.
// The owner's series is rebuilt either way.
func OnAssetMutated(ctx context.Context, client *twelvedata.Client, asset *data.Asset) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.OnAssetMutated")
	defer span.End()

	var firstErr error
	if asset.Kind.MarketTraded() {
		fingerprint, err := asset.MarketFingerprint()
		if err != nil {
			log.Error().Stack().Err(err).Str("AssetID", asset.ID.String()).Msg("could not fingerprint asset")
			firstErr = err
		} else if !bytes.Equal(fingerprint, asset.SourceID) {
			firstErr = ensureHistory(ctx, client, asset)
		}
	}

	if err := valuation.RebuildUser(ctx, asset.UserID, true); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// OnAssetClosed stamps the position closed and rebuilds the owner's series.
// The close instant caps the asset's contribution; rows before it keep
// including the position.
func OnAssetClosed(ctx context.Context, asset *data.Asset) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "ingest.OnAssetClosed")
	defer span.End()

	var firstErr error
	if err := data.CloseAsset(ctx, asset.ID); err != nil {
		firstErr = err
	}

	if err := valuation.RebuildUser(ctx, asset.UserID, true); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ensureHistory backfills the asset and records the identity fingerprint the
// backfill ran for. Already covered history is success, not failure.
func ensureHistory(ctx context.Context, client *twelvedata.Client, asset *data.Asset) error {
	if !asset.Kind.MarketTraded() {
		return nil
	}

	if err := BackfillAsset(ctx, client, asset); err != nil && !errors.Is(err, ErrOverlappingHistory) {
		log.Warn().Stack().Err(err).Str("AssetID", asset.ID.String()).Msg("backfill failed")
		return err
	}

	fingerprint, err := asset.MarketFingerprint()
	if err != nil {
		log.Error().Stack().Err(err).Str("AssetID", asset.ID.String()).Msg("could not fingerprint asset")
		return err
	}
	if err := data.SetSourceID(ctx, asset.ID, fingerprint); err != nil {
		return err
	}
	asset.SourceID = fingerprint
	return nil
}
