/*
Package config loads the per-run classification thresholds from YAML.

PURPOSE:
  Classification behavior must be explicitly tuned per migration run. The
  four primary thresholds are mandatory: a file that omits any of them is a
  configuration error at startup, never a silent default that would change
  classification between runs.

FILE FORMAT:
  highEntropyUniqueRatio: 0.8        # mandatory, (0, 1]
  highEntropyShannon: 4.0            # mandatory, bits, >= 0
  dominantCoverageThreshold: 0.25    # mandatory, (0, 1]
  phaClusterSizeThreshold: 10        # mandatory, positive integer
  logEntropyByGroup: true            # optional, diagnostic only
  outlierMinorityFraction: 0.05      # optional, default 0.05
  regimeGapToleranceDays: 180        # optional, default 180

SEE ALSO:
  - commission/classify.go: Threshold semantics and range validation
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/commission-engine/commission"
)

// Defaults for the optional knobs only. The primary thresholds have none.
const (
	DefaultOutlierMinorityFraction = 0.05
	DefaultRegimeGapToleranceDays  = 180
)

// file mirrors the YAML document. Pointers distinguish "absent" from
// "explicitly zero" for the mandatory fields.
type file struct {
	HighEntropyUniqueRatio    *float64 `yaml:"highEntropyUniqueRatio"`
	HighEntropyShannon        *float64 `yaml:"highEntropyShannon"`
	DominantCoverageThreshold *float64 `yaml:"dominantCoverageThreshold"`
	PHAClusterSizeThreshold   *int     `yaml:"phaClusterSizeThreshold"`
	LogEntropyByGroup         bool     `yaml:"logEntropyByGroup"`
	OutlierMinorityFraction   *float64 `yaml:"outlierMinorityFraction"`
	RegimeGapToleranceDays    *int     `yaml:"regimeGapToleranceDays"`
}

// Load reads, parses and validates a threshold file. Any missing mandatory
// field or out-of-range value is a commission.ConfigError.
func Load(path string) (commission.Thresholds, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return commission.Thresholds{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse validates raw YAML bytes. Split from Load for testability.
func Parse(raw []byte) (commission.Thresholds, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return commission.Thresholds{}, fmt.Errorf("parse config: %w", err)
	}

	switch {
	case f.HighEntropyUniqueRatio == nil:
		return commission.Thresholds{}, &commission.ConfigError{Field: "highEntropyUniqueRatio", Reason: "missing"}
	case f.HighEntropyShannon == nil:
		return commission.Thresholds{}, &commission.ConfigError{Field: "highEntropyShannon", Reason: "missing"}
	case f.DominantCoverageThreshold == nil:
		return commission.Thresholds{}, &commission.ConfigError{Field: "dominantCoverageThreshold", Reason: "missing"}
	case f.PHAClusterSizeThreshold == nil:
		return commission.Thresholds{}, &commission.ConfigError{Field: "phaClusterSizeThreshold", Reason: "missing"}
	}

	t := commission.Thresholds{
		HighEntropyUniqueRatio:    *f.HighEntropyUniqueRatio,
		HighEntropyShannon:        *f.HighEntropyShannon,
		DominantCoverageThreshold: *f.DominantCoverageThreshold,
		PHAClusterSizeThreshold:   *f.PHAClusterSizeThreshold,
		LogEntropyByGroup:         f.LogEntropyByGroup,
		OutlierMinorityFraction:   DefaultOutlierMinorityFraction,
		RegimeGapTolerance:        DefaultRegimeGapToleranceDays * 24 * time.Hour,
	}
	if f.OutlierMinorityFraction != nil {
		t.OutlierMinorityFraction = *f.OutlierMinorityFraction
	}
	if f.RegimeGapToleranceDays != nil {
		t.RegimeGapTolerance = time.Duration(*f.RegimeGapToleranceDays) * 24 * time.Hour
	}

	if err := t.Validate(); err != nil {
		return commission.Thresholds{}, err
	}
	return t, nil
}
