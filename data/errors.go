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

package data

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrNoPrice         = errors.New("no price bar at or before requested time")
	ErrUnknownRate     = errors.New("no direct rate for currency pair")
	ErrMalformedBar    = errors.New("bar failed validation")
	ErrBeginAfterEnd   = errors.New("invalid interval; begin after end date")
	ErrInvalidInterval = errors.New("interval must be 1hour or 1day")
	ErrNotMarketTraded = errors.New("asset has no market identity")
	ErrEmptyUserID     = errors.New("userID cannot be an empty string")
)
