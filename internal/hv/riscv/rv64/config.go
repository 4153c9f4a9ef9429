package rv64

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// HartConfig is the YAML-loadable description of a single hart's feature
// set and privilege-spec version, matching the teacher's convention of
// loading small deployment-shaped config documents through yaml.v3 rather
// than flags alone.
type HartConfig struct {
	ResetPC    uint64   `yaml:"reset_pc"`
	Extensions []string `yaml:"extensions"`
	PrivVer    string   `yaml:"priv_version"`
}

// LoadHartConfig parses a YAML hart configuration document.
func LoadHartConfig(r io.Reader) (HartConfig, error) {
	var cfg HartConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return HartConfig{}, fmt.Errorf("rv64: decode hart config: %w", err)
	}
	return cfg, nil
}

// Features resolves the configuration's extension list into the Feature
// bitset NewHart expects.
func (c HartConfig) Features() (Feature, error) {
	var f Feature
	for _, ext := range c.Extensions {
		switch ext {
		case "mmu", "MMU":
			f |= FeatureMMU
		case "pmp", "PMP":
			f |= FeaturePMP
		case "h", "H", "rvh", "RVH":
			f |= FeatureRVH
		default:
			return 0, fmt.Errorf("rv64: unknown extension %q", ext)
		}
	}
	return f, nil
}

// PrivVersion resolves the configuration's textual privilege-spec version.
func (c HartConfig) PrivVersion() (PrivVersion, error) {
	switch c.PrivVer {
	case "", "1.10", "1.11", "1.12":
		return PrivVersion110, nil
	case "legacy", "1.9":
		return PrivVersionLegacy, nil
	default:
		return 0, fmt.Errorf("rv64: unknown priv_version %q", c.PrivVer)
	}
}

// NewHartFromConfig builds a Hart from a parsed HartConfig.
func NewHartFromConfig(c HartConfig) (*Hart, error) {
	features, err := c.Features()
	if err != nil {
		return nil, err
	}
	privVer, err := c.PrivVersion()
	if err != nil {
		return nil, err
	}
	return NewHart(c.ResetPC, features, privVer), nil
}
