package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DepthTier controls cache freshness for one analysis depth.
type DepthTier struct {
	TTLSeconds int `yaml:"ttlSeconds"`
}

// Invalidation holds the heuristic thresholds for snapshot invalidation.
// The defaults are operational tuning knobs, not business rules.
type Invalidation struct {
	CountDeltaPct     float64 `yaml:"countDeltaPct"`
	MinTextSimilarity float64 `yaml:"minTextSimilarity"`
}

// Tiers is the depth-tier table plus invalidation thresholds.
type Tiers struct {
	Depths       map[string]DepthTier `yaml:"depths"`
	DefaultDepth string               `yaml:"defaultDepth"`
	Invalidation Invalidation         `yaml:"invalidation"`
}

// DefaultTiers returns the built-in tier table. Shallower analyses tolerate
// staler data, so they get longer TTLs.
func DefaultTiers() Tiers {
	return Tiers{
		Depths: map[string]DepthTier{
			"light":    {TTLSeconds: 86400},
			"standard": {TTLSeconds: 21600},
			"deep":     {TTLSeconds: 3600},
		},
		DefaultDepth: "light",
		Invalidation: Invalidation{
			CountDeltaPct:     0.10,
			MinTextSimilarity: 0.70,
		},
	}
}

// LoadTiers reads the tier table from a YAML file, falling back to defaults
// for anything the file omits. An empty path returns the defaults.
func LoadTiers(path string) (Tiers, error) {
	tiers := DefaultTiers()
	if path == "" {
		return tiers, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tiers, fmt.Errorf("read tiers file: %w", err)
	}
	var loaded Tiers
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return tiers, fmt.Errorf("parse tiers file: %w", err)
	}
	if len(loaded.Depths) > 0 {
		tiers.Depths = loaded.Depths
	}
	if loaded.DefaultDepth != "" {
		tiers.DefaultDepth = loaded.DefaultDepth
	}
	if loaded.Invalidation.CountDeltaPct > 0 {
		tiers.Invalidation.CountDeltaPct = loaded.Invalidation.CountDeltaPct
	}
	if loaded.Invalidation.MinTextSimilarity > 0 {
		tiers.Invalidation.MinTextSimilarity = loaded.Invalidation.MinTextSimilarity
	}
	return tiers, nil
}

// TTLFor returns the TTL in seconds for a depth, falling back to the default
// depth's TTL for unknown names.
func (t Tiers) TTLFor(depth string) int {
	if tier, ok := t.Depths[depth]; ok {
		return tier.TTLSeconds
	}
	if tier, ok := t.Depths[t.DefaultDepth]; ok {
		return tier.TTLSeconds
	}
	return 3600
}

// KnownDepth reports whether the depth name is configured.
func (t Tiers) KnownDepth(depth string) bool {
	_, ok := t.Depths[depth]
	return ok
}
