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

// Package twelvedata talks to the quote provider's HTTP interface. A single
// client serializes every request through one rate gate so the free-tier
// call budget holds no matter how many jobs share it.
package twelvedata

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/folio-vault/fv-api/data"
)

const (
	DefaultBaseURL          = "https://api.twelvedata.com"
	DefaultRateLimitSeconds = 8
	DefaultTimeout          = 30 * time.Second
)

// ErrProvider marks any failure talking to the quote provider: transport
// errors, non-2xx responses, error envelopes, and schema drift.
var ErrProvider = errors.New("quote provider request failed")

type Client struct {
	token   string
	baseURL string
	limiter *rate.Limiter
	client  *http.Client
}

type Option func(*Client)

// WithToken overrides the API token from configuration.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithBaseURL overrides the provider address from configuration.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithHTTPClient substitutes the transport, mostly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithRateEvery changes the spacing between calls, mostly for tests.
func WithRateEvery(interval time.Duration) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Every(interval), 1) }
}

// New builds a client from the twelvedata viper settings. Callers should
// construct one client at startup and share it; each client carries its own
// rate gate.
func New(opts ...Option) *Client {
	limitSecs := viper.GetInt("twelvedata.rate_limit")
	if limitSecs <= 0 {
		limitSecs = DefaultRateLimitSeconds
	}

	baseURL := viper.GetString("twelvedata.base_url")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &Client{
		token:   viper.GetString("twelvedata.token"),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Every(time.Duration(limitSecs)*time.Second), 1),
		client:  &http.Client{Timeout: DefaultTimeout},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// get waits for the next rate-gate slot, performs the request, and decodes
// the body into out. The apikey parameter is appended here and kept out of
// logs.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	subLog := log.With().Str("Endpoint", endpoint).Logger()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate gate: %s", ErrProvider, err)
	}

	if params == nil {
		params = url.Values{}
	}
	if c.token != "" {
		params.Set("apikey", c.token)
	}

	reqURL := c.baseURL + endpoint
	if encoded := params.Encode(); encoded != "" {
		reqURL = fmt.Sprintf("%s?%s", reqURL, encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrProvider, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		subLog.Warn().Err(err).Msg("provider http request failed")
		return fmt.Errorf("%w: %s", ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not read provider response body")
		return fmt.Errorf("%w: %s", ErrProvider, err)
	}

	if resp.StatusCode >= 400 {
		subLog.Warn().Int("HTTPResponseStatusCode", resp.StatusCode).Msg("provider returned invalid response code")
		return fmt.Errorf("%w: status code %d", ErrProvider, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		subLog.Warn().Err(err).Msg("could not unmarshal provider response")
		return fmt.Errorf("%w: %s", ErrProvider, err)
	}

	return nil
}

// envelopeError reports the provider's in-band error shape, a JSON document
// with status "error" and a message.
func envelopeError(status, message string) error {
	if status != "error" {
		return nil
	}
	if message == "" {
		message = "no detail provided"
	}
	return fmt.Errorf("%w: %s", ErrProvider, message)
}

// flexFloat64 decodes numeric fields that arrive either as JSON numbers or
// as quoted strings.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(raw []byte) error {
	trimmed := strings.Trim(string(raw), `"`)
	if trimmed == "" || trimmed == "null" || trimmed == "N/A" {
		*f = 0
		return nil
	}

	val, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return err
	}

	*f = flexFloat64(val)
	return nil
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDatetime accepts the three datetime spellings the provider emits:
// date only, date with time, and ISO-8601 with a zone.
func parseDatetime(raw string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized datetime %q", ErrProvider, raw)
}

// requestInterval maps a stored bar interval onto the provider's spelling.
func requestInterval(interval string) (string, error) {
	switch interval {
	case data.IntervalHourly:
		return "1h", nil
	case data.IntervalDaily:
		return "1day", nil
	}
	return "", fmt.Errorf("%w: %q", data.ErrInvalidInterval, interval)
}
