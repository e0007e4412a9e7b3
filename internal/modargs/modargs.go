// Package modargs parses module argument strings of the form
// "key1=value1 key2=value2 ...". Every module declares the keys it
// accepts; unknown keys are an error so typos fail loudly at load time.
package modargs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mixerd/mixerd/internal/sample"
)

// Args holds parsed module arguments.
type Args map[string]string

// Parse splits an argument string into key=value pairs and validates
// every key against the allowed set.
func Parse(s string, valid []string) (Args, error) {
	a := make(Args)

	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("malformed module argument %q", field)
		}

		allowed := false
		for _, v := range valid {
			if v == key {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("unknown module argument %q", key)
		}

		if _, dup := a[key]; dup {
			return nil, fmt.Errorf("duplicate module argument %q", key)
		}
		a[key] = value
	}

	return a, nil
}

// Get returns the value for key, or def when the key is absent.
func (a Args) Get(key, def string) string {
	if v, ok := a[key]; ok {
		return v
	}
	return def
}

// Uint32 returns the value for key parsed as a uint32, or def when the
// key is absent.
func (a Args) Uint32(key string, def uint32) (uint32, error) {
	v, ok := a[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %q is not a valid number", key, v)
	}
	return uint32(n), nil
}

// SampleSpecAndChannelMap resolves the format/rate/channels/channel_map
// arguments against the given defaults. A channel map, when present,
// must agree with an explicit channels argument; without one, the map's
// length sets the channel count.
func (a Args) SampleSpecAndChannelMap(def sample.Spec) (sample.Spec, sample.ChannelMap, error) {
	spec := def

	if v, ok := a["format"]; ok {
		f, err := sample.ParseFormat(v)
		if err != nil {
			return sample.Spec{}, sample.ChannelMap{}, err
		}
		spec.Format = f
	}

	rate, err := a.Uint32("rate", spec.Rate)
	if err != nil {
		return sample.Spec{}, sample.ChannelMap{}, err
	}
	spec.Rate = rate

	channels, err := a.Uint32("channels", uint32(spec.Channels))
	if err != nil {
		return sample.Spec{}, sample.ChannelMap{}, err
	}
	if channels < 1 || channels > sample.MaxChannels {
		return sample.Spec{}, sample.ChannelMap{}, fmt.Errorf("channel count %d out of range 1..%d", channels, sample.MaxChannels)
	}
	spec.Channels = uint8(channels)

	var m sample.ChannelMap
	if v, ok := a["channel_map"]; ok {
		m, err = sample.ParseChannelMap(v)
		if err != nil {
			return sample.Spec{}, sample.ChannelMap{}, err
		}
		if _, explicit := a["channels"]; explicit && m.Channels != spec.Channels {
			return sample.Spec{}, sample.ChannelMap{}, fmt.Errorf("channel map has %d channels but channels=%d", m.Channels, spec.Channels)
		}
		spec.Channels = m.Channels
	} else {
		m = sample.DefaultChannelMap(spec.Channels)
	}

	if err := spec.Valid(); err != nil {
		return sample.Spec{}, sample.ChannelMap{}, err
	}
	return spec, m, nil
}
