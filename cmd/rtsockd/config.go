// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rbmk-project/rtsock/linkcond"
	"github.com/rbmk-project/rtsock/quicsock"
	"github.com/rbmk-project/rtsock/rtcsock"
	"github.com/rbmk-project/rtsock/udpsock"
	"gopkg.in/yaml.v3"
)

// Supported backends.
const (
	backendUDP  = "udp"
	backendRTC  = "rtc"
	backendQUIC = "quic"
)

// defaultAddress is the default bind address, which probes the
// default port range on all the interfaces.
const defaultAddress = "0.0.0.0:0"

// serverConfig is the daemon configuration, usually read from a YAML
// file and then overridden using command line flags.
type serverConfig struct {
	// Backend is one of "udp", "rtc" and "quic".
	Backend string `yaml:"backend"`

	// Condition is the optional link condition preset name.
	Condition string `yaml:"condition,omitempty"`

	// LinkCondition is an optional custom link condition, which
	// takes precedence over Condition.
	LinkCondition *linkcond.Config `yaml:"link_condition,omitempty"`

	// LogFormat is either "text" or "json".
	LogFormat string `yaml:"log_format"`

	// LogLevel is the minimum log level (e.g., "info").
	LogLevel string `yaml:"log_level"`

	// MaxPackets is the number of packets to echo before exiting,
	// zero meaning that we run until interrupted.
	MaxPackets int `yaml:"max_packets,omitempty"`

	// QUIC contains the QUIC backend settings.
	QUIC quicsock.Config `yaml:"quic"`

	// RTC contains the WebRTC backend settings.
	RTC rtcsock.Config `yaml:"rtc"`

	// UDP contains the UDP backend settings.
	UDP udpsock.Config `yaml:"udp"`
}

// newServerConfig returns the default [*serverConfig].
func newServerConfig() *serverConfig {
	return &serverConfig{
		Backend:   backendUDP,
		LogFormat: "text",
		LogLevel:  "info",
		QUIC:      quicsock.Config{Address: defaultAddress},
		RTC:       rtcsock.Config{Address: defaultAddress},
		UDP:       udpsock.Config{Address: defaultAddress},
	}
}

// loadServerConfig reads the YAML file at path on top of the defaults.
func loadServerConfig(path string) (*serverConfig, error) {
	config := newServerConfig()
	if path == "" {
		return config, nil
	}
	filep, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer filep.Close()
	dec := yaml.NewDecoder(filep)
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// validate returns an error if the configuration is not valid.
func (c *serverConfig) validate() error {
	switch c.Backend {
	case backendUDP, backendRTC, backendQUIC:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	if c.MaxPackets < 0 {
		return errors.New("negative max packets")
	}
	_, err := c.linkCondition()
	return err
}

// setAddress sets the bind address of the selected backend.
func (c *serverConfig) setAddress(address string) {
	switch c.Backend {
	case backendRTC:
		c.RTC.Address = address
	case backendQUIC:
		c.QUIC.Address = address
	default:
		c.UDP.Address = address
	}
}

// logLevel parses the log level.
func (c *serverConfig) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// linkCondition returns the link condition, or nil when
// traffic should not be conditioned.
func (c *serverConfig) linkCondition() (*linkcond.Config, error) {
	if c.LinkCondition != nil {
		if err := c.LinkCondition.Validate(); err != nil {
			return nil, err
		}
		return c.LinkCondition, nil
	}
	if c.Condition == "" {
		return nil, nil
	}
	return linkcond.Parse(c.Condition)
}

// newLogger creates the logger writing to w.
func (c *serverConfig) newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.logLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, options)), nil
	}
	return slog.New(slog.NewTextHandler(w, options)), nil
}
