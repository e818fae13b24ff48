// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config loads optional TOML defaults for a compile invocation,
// so repeated local builds don't need every flag spelled out each time.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config mirrors the subset of compiler.Options a project can pin in a
// checked-in file rather than passing on every invocation.
type Config struct {
	Compile struct {
		Optimize             string `toml:"optimize"` // "none" or "default"
		TargetRuntimeVersion int    `toml:"target_runtime_version"`
	} `toml:"compile"`

	Imports []ImportEntry `toml:"import"`

	Log struct {
		Level string `toml:"level"` // debug, info, warn, error
		File  string `toml:"file"`
	} `toml:"log"`
}

// ImportEntry binds one SVM import to a host ecalli index. Adapter
// bindings have no textual form a config file could name (an adapter
// is a compiled function body, not a number), so they are always
// supplied programmatically through compiler.Options instead.
type ImportEntry struct {
	Module    string `toml:"module"`
	Name      string `toml:"name"`
	EcalliIdx int64  `toml:"ecalli"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Compile.Optimize = "default"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads and parses a TOML config file at path. A missing file is
// not an error: it yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
