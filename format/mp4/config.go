package mp4

import (
	"fmt"
	"os"

	"github.com/ugparu/isom/format/mp4/mp4io"
	"gopkg.in/yaml.v3"
)

// Config controls brands, timescales and reader limits of a Movie.
type Config struct {
	MajorBrand       string   `yaml:"major_brand"`
	MinorVersion     uint32   `yaml:"minor_version"`
	CompatibleBrands []string `yaml:"compatible_brands"`
	SegmentBrands    []string `yaml:"segment_brands"`
	// RequiredBrands makes the reader reject files that carry none of them.
	RequiredBrands []string `yaml:"required_brands"`
	MovieTimescale uint32   `yaml:"movie_timescale"`
	Language       string   `yaml:"language"`
	// MaxBoxSize bounds the top-level boxes the reader buffers. Zero disables the check.
	MaxBoxSize uint64 `yaml:"max_box_size"`
	// FragmentDuration, in the movie timescale, is announced in mehd when non-zero.
	FragmentDuration uint64 `yaml:"fragment_duration"`

	// OnSamples is called with the ids of the tracks that gained samples.
	OnSamples func(trackIDs []uint32) `yaml:"-"`
	// Registry overrides the box registry of the session.
	Registry *mp4io.Registry `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MajorBrand:       "isom",
		MinorVersion:     0x200,
		CompatibleBrands: []string{"isom", "iso6", "mp41"},
		SegmentBrands:    []string{"msdh"},
		MovieTimescale:   1000,
		Language:         "und",
		MaxBoxSize:       1 << 30,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("mp4: read config: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("mp4: parse config %s: %w", path, err)
	}
	if err = cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, list := range [][]string{{c.MajorBrand}, c.CompatibleBrands, c.SegmentBrands, c.RequiredBrands} {
		for _, b := range list {
			if len(b) != 4 {
				return fmt.Errorf("mp4: brand %q is not four characters", b)
			}
		}
	}
	if c.MovieTimescale == 0 {
		return fmt.Errorf("mp4: movie timescale must be positive")
	}
	return nil
}

func (c *Config) registry() *mp4io.Registry {
	if c.Registry != nil {
		return c.Registry
	}
	return mp4io.DefaultRegistry()
}

func brandTags(brands []string) []mp4io.Tag {
	tags := make([]mp4io.Tag, 0, len(brands))
	for _, b := range brands {
		tags = append(tags, mp4io.StringToTag(b))
	}
	return tags
}
