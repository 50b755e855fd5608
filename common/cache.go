// Copyright 2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Cache for expensive read-path responses (statistic series, instrument
// search results). Two tiers: a local LRU with per-entry expiry and an
// optional shared redis. Values are lz4 compressed. Never used on the
// valuation write path.

var ErrCacheMiss = errors.New("cache miss")

var cacheCtx = context.Background()
var rdb *redis.Client
var localCache *lru.Cache

type cacheEntry struct {
	expires time.Time
	payload []byte
}

func SetupCache() {
	var err error
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			os.Exit(1)
		}

		rdb = redis.NewClient(opt)
	}

	localCache, err = lru.New(viper.GetInt("cache.local_size"))
	if err != nil {
		log.Error().Err(err).Msg("could not create LRU cache")
		os.Exit(1)
	}
}

func cacheTTL() time.Duration {
	return time.Duration(viper.GetInt("cache.ttl")) * time.Second
}

func CacheSet(key string, bytes []byte) error {
	compressed, err := Compress(bytes)
	if err != nil {
		return err
	}
	localCache.Add(key, cacheEntry{
		expires: time.Now().Add(cacheTTL()),
		payload: compressed,
	})

	if viper.GetBool("cache.redis") {
		return rdb.Set(cacheCtx, key, compressed, cacheTTL()).Err()
	}
	return nil
}

func CacheGet(key string) ([]byte, error) {
	if v, ok := localCache.Get(key); ok {
		entry := v.(cacheEntry)
		if time.Now().Before(entry.expires) {
			return Decompress(entry.payload)
		}
		localCache.Remove(key)
	}

	if viper.GetBool("cache.redis") {
		val, err := rdb.GetEx(cacheCtx, key, cacheTTL()).Bytes()
		if err != nil {
			return []byte{}, ErrCacheMiss
		}
		return Decompress(val)
	}

	return []byte{}, ErrCacheMiss
}

// CacheDel drops a key from both tiers. Called after a rebuild mutates a
// user's statistic series so reads don't serve the pre-rebuild payload for
// a full TTL.
func CacheDel(key string) {
	localCache.Remove(key)
	if viper.GetBool("cache.redis") {
		if err := rdb.Del(cacheCtx, key).Err(); err != nil {
			log.Warn().Err(err).Str("Key", key).Msg("could not delete redis cache key")
		}
	}
}
