// Package cfg decodes driver and service configuration tables.
package cfg

import (
	"slices"

	"github.com/mitchellh/mapstructure"
)

// Setter is the interface a configuration struct may implement
// to set default options.
type Setter interface {
	ApplyDefaults()
}

// Decode decodes the raw input map into the target pointer c.
// Duration fields accept strings such as "5s". Unknown keys are rejected
// so typos in [store.drivers.<name>] tables surface at startup.
// If c implements Setter, ApplyDefaults() is called after decoding.
func Decode(input map[string]any, c any) error {
	config := &mapstructure.DecoderConfig{
		Metadata:    nil,
		Result:      c,
		TagName:     "mapstructure",
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return err
	}

	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}

	return nil
}

// DecodeWithUnused is the lenient variant used for [http.services.<name>]
// tables: unknown keys are returned sorted instead of failing, so callers
// can warn about them.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:   &md,
		Result:     c,
		TagName:    "mapstructure",
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(input); err != nil {
		return nil, err
	}

	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}

	unused := slices.Clone(md.Unused)
	slices.Sort(unused)
	return unused, nil
}
