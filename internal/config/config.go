// Package config loads the YAML deployment document for a daemon-style run:
// storage location, controller tuning, declaratively partitioned channels,
// theta configurations, goals, and the capability rate table. Validation is
// cross-referential and reports every problem at once, so a broken document
// fails with one complete diagnosis instead of a fix-and-retry loop.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/theta"
)

// #region document

// File is the root of the deployment document.
type File struct {
	Storage    Storage    `yaml:"storage"`
	Controller Controller `yaml:"controller"`
	Logging    Logging    `yaml:"logging"`
	Channels   []Channel  `yaml:"channels"`
	Thetas     []Theta    `yaml:"thetas"`
	Goals      []Goal     `yaml:"goals"`
	Rates      Rates      `yaml:"rates"`
}

// Storage locates the SQLite database all stores share.
type Storage struct {
	Path string `yaml:"path"`
}

// Controller carries the cycle cadence and hysteresis tuning. Durations are
// strings in time.ParseDuration syntax; zero values fall back to the
// defaults in Default.
type Controller struct {
	Interval           string  `yaml:"interval"`
	MinObservations    int     `yaml:"min_observations"`
	EscalateCooldown   string  `yaml:"escalate_cooldown"`
	DeescalateCooldown string  `yaml:"deescalate_cooldown"`
	Confidence         float64 `yaml:"confidence"`
	CacheStaleness     string  `yaml:"cache_staleness"`
	Granularity        string  `yaml:"granularity"`
}

// Logging selects the binaries' log verbosity.
type Logging struct {
	Level string `yaml:"level"`
}

// #endregion document

// #region channels

// Channel declares one instrumented channel and its partition scheme. The
// classifier is declarative: embedders stamp symbols into request/result
// metadata under the configured keys, and the scheme only validates them
// against the alphabets.
type Channel struct {
	ID             string        `yaml:"id"`
	SchemeID       string        `yaml:"scheme_id"`
	Granularity    string        `yaml:"granularity"`
	InputSymbols   []string      `yaml:"input_symbols"`
	OutputSymbols  []string      `yaml:"output_symbols"`
	FailureSymbols []string      `yaml:"failure_symbols"`
	Classifier     Classifier    `yaml:"classifier"`
	Admissibility  Admissibility `yaml:"admissibility"`
}

// Classifier names the metadata keys carrying pre-stamped symbols.
type Classifier struct {
	InputKey    string `yaml:"input_key"`
	OutputKey   string `yaml:"output_key"`
	ErrorSymbol string `yaml:"error_symbol"`
}

// Admissibility mirrors the partition package's registration metadata.
type Admissibility struct {
	InspectedFields []string          `yaml:"inspected_fields"`
	Reachability    string            `yaml:"reachability"`
	SymbolOwners    map[string]string `yaml:"symbol_owners"`
}

// #endregion channels

// #region thetas-goals-rates

// Theta declares one supervision configuration. Level and protocol are the
// lowercase names (nominal/degraded/critical, passive/confirm/crosscheck).
// At most one theta per channel may be flagged active.
type Theta struct {
	ID                 string `yaml:"id"`
	ChannelID          string `yaml:"channel_id"`
	Level              string `yaml:"level"`
	PartitionID        string `yaml:"partition_id"`
	Protocol           string `yaml:"protocol"`
	CapabilityOverride string `yaml:"capability_override"`
	Active             bool   `yaml:"active"`
}

// Goal declares one supervision goal. A goal needs at least one failure
// definition: output symbols, a latency limit, or both (combined with OR).
type Goal struct {
	ID             string   `yaml:"id"`
	Tier           string   `yaml:"tier"`
	Epsilon        float64  `yaml:"epsilon"`
	Window         string   `yaml:"window"`
	Channels       []string `yaml:"channels"`
	FailureSymbols []string `yaml:"failure_symbols"`
	LatencyLimit   string   `yaml:"latency_limit"`
}

// Rates prices capabilities for usage estimation.
type Rates struct {
	Fallback     Rate            `yaml:"fallback"`
	ByCapability map[string]Rate `yaml:"by_capability"`
}

// Rate is one capability's pricing row.
type Rate struct {
	CostPerPromptUnit      float64 `yaml:"cost_per_prompt_unit"`
	CostPerCompletionUnit  float64 `yaml:"cost_per_completion_unit"`
	DefaultPromptUnits     int64   `yaml:"default_prompt_units"`
	DefaultCompletionUnits int64   `yaml:"default_completion_units"`
}

// #endregion thetas-goals-rates

// #region load

// Default returns the document with standard tuning and no channels, thetas,
// or goals.
func Default() *File {
	return &File{
		Storage: Storage{Path: "aps.db"},
		Controller: Controller{
			Interval:           "30s",
			MinObservations:    20,
			EscalateCooldown:   "1m",
			DeescalateCooldown: "5m",
			Confidence:         0.95,
			CacheStaleness:     "1h",
			Granularity:        string(partition.GranularityCoarse),
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads and validates the document at path, merged over Default. An
// empty path returns the defaults untouched; a named but missing file is an
// error.
func Load(path string) (*File, error) {
	f := Default()
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s:\n%w", path, err)
	}
	return f, nil
}

// #endregion load

// #region validate

var logLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks the document and returns every problem joined into one
// error, nil when clean.
func (f *File) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if f.Storage.Path == "" {
		fail("storage: empty path")
	}
	if !logLevels[f.Logging.Level] {
		fail("logging: unknown level %q", f.Logging.Level)
	}

	f.validateController(fail)
	channels, schemes := f.validateChannels(fail)
	f.validateThetas(fail, channels, schemes)
	f.validateGoals(fail, channels)
	f.validateRates(fail)

	return errors.Join(errs...)
}

func (f *File) validateController(fail func(string, ...any)) {
	c := f.Controller
	for _, d := range []struct{ name, value string }{
		{"interval", c.Interval},
		{"escalate_cooldown", c.EscalateCooldown},
		{"deescalate_cooldown", c.DeescalateCooldown},
		{"cache_staleness", c.CacheStaleness},
	} {
		if d.value == "" {
			continue
		}
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			fail("controller: %s %q is not a positive duration", d.name, d.value)
		}
	}
	if c.MinObservations < 0 {
		fail("controller: negative min_observations %d", c.MinObservations)
	}
	if c.Confidence != 0 && (c.Confidence <= 0 || c.Confidence >= 1) {
		fail("controller: confidence %v outside (0, 1)", c.Confidence)
	}
	if c.Granularity != "" && !partition.Granularity(c.Granularity).Valid() {
		fail("controller: unknown granularity %q", c.Granularity)
	}
}

func (f *File) validateChannels(fail func(string, ...any)) (channels, schemes map[string]bool) {
	channels = make(map[string]bool, len(f.Channels))
	schemes = make(map[string]bool, len(f.Channels))

	for i, c := range f.Channels {
		where := fmt.Sprintf("channel[%d] %s", i, c.ID)
		switch {
		case c.ID == "":
			fail("channel[%d]: empty id", i)
		case channels[c.ID]:
			fail("%s: duplicate channel id", where)
		}
		channels[c.ID] = true

		switch {
		case c.SchemeID == "":
			fail("%s: empty scheme_id", where)
		case schemes[c.SchemeID]:
			fail("%s: duplicate scheme_id %q", where, c.SchemeID)
		}
		schemes[c.SchemeID] = true

		if c.Granularity != "" && !partition.Granularity(c.Granularity).Valid() {
			fail("%s: unknown granularity %q", where, c.Granularity)
		}
		if len(c.InputSymbols) == 0 {
			fail("%s: no input symbols", where)
		}
		if len(c.OutputSymbols) == 0 {
			fail("%s: no output symbols", where)
		}
		if c.Classifier.InputKey == "" || c.Classifier.OutputKey == "" {
			fail("%s: classifier needs input_key and output_key", where)
		}
	}
	return channels, schemes
}

func (f *File) validateThetas(fail func(string, ...any), channels, schemes map[string]bool) {
	seen := make(map[string]bool, len(f.Thetas))
	activePer := make(map[string]string)

	for i, t := range f.Thetas {
		where := fmt.Sprintf("theta[%d] %s", i, t.ID)
		switch {
		case t.ID == "":
			fail("theta[%d]: empty id", i)
		case seen[t.ID]:
			fail("%s: duplicate theta id", where)
		}
		seen[t.ID] = true

		if !channels[t.ChannelID] {
			fail("%s: channel %q not declared", where, t.ChannelID)
		}
		if !schemes[t.PartitionID] {
			fail("%s: partition %q not declared", where, t.PartitionID)
		}
		if _, err := parseLevel(t.Level); err != nil {
			fail("%s: %v", where, err)
		}
		if p := protocolOrDefault(t.Protocol); !p.Valid() {
			fail("%s: unknown protocol %q", where, t.Protocol)
		}
		if t.Active {
			if prev, ok := activePer[t.ChannelID]; ok {
				fail("%s: channel %q already has active theta %s", where, t.ChannelID, prev)
			}
			activePer[t.ChannelID] = t.ID
		}
	}
}

func (f *File) validateGoals(fail func(string, ...any), channels map[string]bool) {
	seen := make(map[string]bool, len(f.Goals))

	for i, g := range f.Goals {
		where := fmt.Sprintf("goal[%d] %s", i, g.ID)
		switch {
		case g.ID == "":
			fail("goal[%d]: empty id", i)
		case seen[g.ID]:
			fail("%s: duplicate goal id", where)
		}
		seen[g.ID] = true

		if tier := tierOrDefault(g.Tier); !tier.Valid() {
			fail("%s: unknown tier %q", where, g.Tier)
		}
		if g.Epsilon < 0 {
			fail("%s: negative epsilon", where)
		}
		if g.Window == "" {
			fail("%s: empty window", where)
		} else if v, err := time.ParseDuration(g.Window); err != nil || v <= 0 {
			fail("%s: window %q is not a positive duration", where, g.Window)
		}
		if len(g.Channels) == 0 {
			fail("%s: no channels", where)
		}
		for _, ch := range g.Channels {
			if !channels[ch] {
				fail("%s: channel %q not declared", where, ch)
			}
		}
		if len(g.FailureSymbols) == 0 && g.LatencyLimit == "" {
			fail("%s: no failure definition (failure_symbols or latency_limit)", where)
		}
		if g.LatencyLimit != "" {
			if v, err := time.ParseDuration(g.LatencyLimit); err != nil || v <= 0 {
				fail("%s: latency_limit %q is not a positive duration", where, g.LatencyLimit)
			}
		}
	}
}

func (f *File) validateRates(fail func(string, ...any)) {
	check := func(name string, r Rate) {
		if r.CostPerPromptUnit < 0 || r.CostPerCompletionUnit < 0 {
			fail("rates: %s has negative cost", name)
		}
		if r.DefaultPromptUnits < 0 || r.DefaultCompletionUnits < 0 {
			fail("rates: %s has negative default units", name)
		}
	}
	check("fallback", f.Rates.Fallback)
	for id, r := range f.Rates.ByCapability {
		check(id, r)
	}
}

// #endregion validate

// #region parse-helpers

func parseLevel(name string) (theta.Level, error) {
	if name == "" {
		return theta.LevelNominal, nil
	}
	return theta.ParseLevel(name)
}

func protocolOrDefault(name string) theta.Protocol {
	if name == "" {
		return theta.ProtocolPassive
	}
	return theta.Protocol(name)
}

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// #endregion parse-helpers
