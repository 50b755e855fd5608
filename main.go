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

package main

import (
	"errors"

	"github.com/folio-vault/fv-api/cmd"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func configureViper() {
	// read config file
	viper.SetConfigName("fvapi")
	viper.SetConfigType("toml")
	viper.AddConfigPath("/etc/fv-api/")
	viper.AddConfigPath("$HOME/.config/fv-api")
	viper.AddConfigPath(".")

	var notFound viper.ConfigFileNotFoundError
	err := viper.ReadInConfig()
	if err != nil {
		// every setting has an env or flag form; a config file is optional
		if errors.As(err, &notFound) {
			return
		}
		log.Panic().Err(err).Msg("could not read config file")
	}
}

func main() {
	configureViper()
	cmd.Execute()
}
