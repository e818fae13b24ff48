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

// Command svmtvmc compiles an SVM binary module into a self-contained
// SPI container image.
package main

import (
	"os"

	getopt "github.com/pborman/getopt/v2"

	"svmtvm/compiler"
	"svmtvm/container"
	"svmtvm/diagnostics"
	"svmtvm/internal/config"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Path to a TOML config file")
	optOutput := getopt.StringLong("output", 'o', "", "Output image path (default: input path with .spi suffix)")
	optOptimize := getopt.StringLong("optimize", 'O', "", "Optimization level: none or default (overrides config)")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file (default: stderr)")
	optHelp := getopt.BoolLong("help", 'h', "Show usage")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}
	if getopt.NArgs() != 1 {
		getopt.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *optConfig != "" {
		loaded, err := config.Load(*optConfig)
		if err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
		cfg = loaded
	}
	if *optOptimize != "" {
		cfg.Compile.Optimize = *optOptimize
	}

	logOut := os.Stderr
	if *optLogFile != "" {
		f, err := os.Create(*optLogFile)
		if err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	log := diagnostics.New(logOut, diagnostics.ParseLevel(cfg.Log.Level))

	input := getopt.Arg(0)
	output := *optOutput
	if output == "" {
		output = input + ".spi"
	}

	svm, err := os.ReadFile(input)
	if err != nil {
		log.Error("read input", "path", input, "err", err)
		os.Exit(1)
	}

	opts := compiler.Options{
		Optimize:             compiler.OptimizeLevel(cfg.Compile.Optimize),
		Imports:              bindImports(cfg),
		TargetRuntimeVersion: uint16(cfg.Compile.TargetRuntimeVersion),
	}

	t := diagnostics.StartPhase(log, "compile")
	img, stats, cerr := compiler.Compile(svm, opts)
	t.Stop()
	if cerr != nil {
		log.Error("compile failed", "err", cerr)
		os.Exit(1)
	}
	log.Info("compile succeeded",
		"funcs", stats.FuncCount, "code_bytes", stats.CodeLen, "jump_table_entries", stats.JumpTableLen)

	blob, eerr := container.Encode(*img)
	if eerr != nil {
		log.Error("encode image", "err", eerr)
		os.Exit(1)
	}
	if werr := os.WriteFile(output, blob, 0644); werr != nil {
		log.Error("write output", "path", output, "err", werr)
		os.Exit(1)
	}
	log.Info("wrote image", "path", output, "bytes", len(blob))
}

// bindImports converts the config file's ecalli bindings into
// compiler.Options.Imports. Adapter bindings have no config-file form
// (see internal/config) and must be added by embedding this binary
// rather than through a config file alone.
func bindImports(cfg *config.Config) map[compiler.ImportKey]compiler.ImportBinding {
	if len(cfg.Imports) == 0 {
		return nil
	}
	out := make(map[compiler.ImportKey]compiler.ImportBinding, len(cfg.Imports))
	for _, e := range cfg.Imports {
		out[compiler.ImportKey{Module: e.Module, Name: e.Name}] = compiler.ImportBinding{
			Ecalli:    true,
			EcalliIdx: e.EcalliIdx,
		}
	}
	return out
}
