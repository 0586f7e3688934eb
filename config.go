// Copyright (c) 2014, Kevin Walsh.  All rights reserved.
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

package ramdatalog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// Config holds every tunable of the solver facade (spec §6).
type Config struct {
	EnableDebugging       bool
	EnableDebugPrintFacts bool
	DebugFileName         string
	DisableJoinOptimizer  bool
	UseProvenance         bool
	IndexArity            int
	ParLevel              int

	ProfilerFactLowerBound int64
	ProfilerSeed           int64
	ProfilerMinimumFacts   int
	ProfilerDiscrimination float64

	Logger hclog.Logger
}

// DefaultConfig returns the configuration spec §6 names as defaults.
func DefaultConfig() Config {
	return Config{
		IndexArity:             64,
		ParLevel:               2,
		ProfilerFactLowerBound: 10,
		ProfilerSeed:           0,
		ProfilerMinimumFacts:   100,
		ProfilerDiscrimination: 0.20,
		Logger:                 hclog.NewNullLogger(),
	}
}

// Option configures a Config in place.
type Option func(*Config)

func WithDebugging(enabled bool) Option {
	return func(c *Config) { c.EnableDebugging = enabled }
}

func WithDebugPrintFacts(enabled bool) Option {
	return func(c *Config) { c.EnableDebugPrintFacts = enabled }
}

func WithDebugFileName(name string) Option {
	return func(c *Config) { c.DebugFileName = name }
}

func WithJoinOptimizerDisabled(disabled bool) Option {
	return func(c *Config) { c.DisableJoinOptimizer = disabled }
}

func WithProvenance(enabled bool) Option {
	return func(c *Config) { c.UseProvenance = enabled }
}

func WithIndexArity(n int) Option {
	return func(c *Config) { c.IndexArity = n }
}

func WithParLevel(n int) Option {
	return func(c *Config) { c.ParLevel = n }
}

func WithProfilerFactLowerBound(n int64) Option {
	return func(c *Config) { c.ProfilerFactLowerBound = n }
}

func WithProfilerSeed(seed int64) Option {
	return func(c *Config) { c.ProfilerSeed = seed }
}

func WithProfilerMinimumFacts(n int) Option {
	return func(c *Config) { c.ProfilerMinimumFacts = n }
}

func WithProfilerDiscrimination(p float64) Option {
	return func(c *Config) { c.ProfilerDiscrimination = p }
}

func WithLogger(l hclog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func newConfig(opts []Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.EnableDebugging {
		level := hclog.Debug
		out := os.Stderr
		if cfg.DebugFileName != "" {
			if f, err := os.OpenFile(cfg.DebugFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644); err == nil {
				out = f
			}
		}
		cfg.Logger = hclog.New(&hclog.LoggerOptions{Name: "ramdatalog", Level: level, Output: out})
	}
	return cfg
}
