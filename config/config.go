// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/lineseek/internal/debugging"
	"github.com/cardinalhq/lineseek/internal/filepool"
	"github.com/cardinalhq/lineseek/internal/healthcheck"
	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/lineserver"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "LINESEEK"

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	LargeFile largefile.Config   `mapstructure:"largefile"`
	Pool      filepool.Config    `mapstructure:"pool"`
	Server    lineserver.Config  `mapstructure:"server"`
	Health    healthcheck.Config `mapstructure:"health"`
	Debug     debugging.Config   `mapstructure:"debug"`
}

// Default is the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LargeFile: largefile.DefaultConfig(),
		Pool:      filepool.DefaultConfig(),
		Server:    lineserver.DefaultConfig(),
		Health:    healthcheck.DefaultConfig(),
		Debug:     debugging.DefaultConfig(),
	}
}

// Load reads configuration from a file and environment variables. With an
// empty file it looks for config.yaml in the working directory and carries on
// without one. Environment variables use the prefix "LINESEEK" and the dot
// character in keys is replaced by an underscore. For example,
// "largefile.span" becomes "LINESEEK_LARGEFILE_SPAN".
func Load(file string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.LargeFile.Validate(); err != nil {
		return err
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return c.Debug.Validate()
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts[:len(parts):len(parts)], tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
