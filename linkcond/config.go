// SPDX-License-Identifier: GPL-3.0-or-later

package linkcond

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Config configures the network degradation applied to incoming packets.
//
// The zero value is a perfect link that neither drops nor delays packets.
type Config struct {
	// IncomingLoss is the probability, in the [0, 1] range, that we
	// drop an incoming packet.
	IncomingLoss float64 `yaml:"incoming_loss"`

	// IncomingLatency is the extra one-way latency of incoming packets.
	IncomingLatency time.Duration `yaml:"incoming_latency"`

	// IncomingJitter randomizes the latency uniformly within the
	// [latency-jitter, latency+jitter] range, clamped at zero.
	IncomingJitter time.Duration `yaml:"incoming_jitter"`

	// AllowReorder allows jitter to deliver packets out of arrival
	// order. When false, release times never go backwards.
	AllowReorder bool `yaml:"allow_reorder"`
}

// Validate returns an error if the configuration is not valid.
func (c *Config) Validate() error {
	if math.IsNaN(c.IncomingLoss) || c.IncomingLoss < 0 || c.IncomingLoss > 1 {
		return fmt.Errorf("linkcond: loss %v outside of [0, 1]", c.IncomingLoss)
	}
	if c.IncomingLatency < 0 {
		return errors.New("linkcond: negative latency")
	}
	if c.IncomingJitter < 0 {
		return errors.New("linkcond: negative jitter")
	}
	return nil
}

// Perfect returns a configuration that does not degrade the link.
func Perfect() *Config {
	return &Config{}
}

// VeryGood returns a configuration modeling a very good connection.
func VeryGood() *Config {
	return &Config{
		IncomingLoss:    0.001,
		IncomingLatency: 12 * time.Millisecond,
		IncomingJitter:  3 * time.Millisecond,
		AllowReorder:    true,
	}
}

// Good returns a configuration modeling a good connection.
func Good() *Config {
	return &Config{
		IncomingLoss:    0.002,
		IncomingLatency: 40 * time.Millisecond,
		IncomingJitter:  10 * time.Millisecond,
		AllowReorder:    true,
	}
}

// Average returns a configuration modeling an average connection.
func Average() *Config {
	return &Config{
		IncomingLoss:    0.02,
		IncomingLatency: 100 * time.Millisecond,
		IncomingJitter:  25 * time.Millisecond,
		AllowReorder:    true,
	}
}

// Poor returns a configuration modeling a poor connection.
func Poor() *Config {
	return &Config{
		IncomingLoss:    0.04,
		IncomingLatency: 200 * time.Millisecond,
		IncomingJitter:  50 * time.Millisecond,
		AllowReorder:    true,
	}
}

// VeryPoor returns a configuration modeling a very poor connection.
func VeryPoor() *Config {
	return &Config{
		IncomingLoss:    0.06,
		IncomingLatency: 300 * time.Millisecond,
		IncomingJitter:  75 * time.Millisecond,
		AllowReorder:    true,
	}
}

// presets maps preset names to their constructors.
var presets = map[string]func() *Config{
	"perfect":   Perfect,
	"very-good": VeryGood,
	"good":      Good,
	"average":   Average,
	"poor":      Poor,
	"very-poor": VeryPoor,
}

// Presets returns the sorted names accepted by [Parse].
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse returns the preset configuration with the given name.
func Parse(name string) (*Config, error) {
	newConfig, found := presets[name]
	if !found {
		return nil, fmt.Errorf("linkcond: unknown preset %q", name)
	}
	return newConfig(), nil
}
