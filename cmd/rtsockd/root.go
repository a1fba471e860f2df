// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"strings"

	"github.com/rbmk-project/rtsock/linkcond"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// serverFlags contains the flags shared by serve and config.
type serverFlags struct {
	address        string
	backend        string
	condition      string
	configFile     string
	logFormat      string
	logLevel       string
	maxPackets     int
	publicAddress  string
	sessionAddress string
}

// register adds the flags to the given command.
func (sf *serverFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&sf.configFile, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&sf.backend, "backend", "b", backendUDP, "backend to use: udp, rtc or quic")
	flags.StringVarP(&sf.address, "address", "a", defaultAddress, "local address of the selected backend")
	flags.StringVar(&sf.condition, "condition", "",
		"link condition preset: "+strings.Join(linkcond.Presets(), ", "))
	flags.StringVar(&sf.logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&sf.logLevel, "log-level", "info", "minimum log level")
	flags.IntVar(&sf.maxPackets, "max-packets", 0, "exit after echoing this many packets")
	flags.StringVar(&sf.publicAddress, "public-address", "", "address advertised to WebRTC peers")
	flags.StringVar(&sf.sessionAddress, "session-address", "", "address of the WebRTC session endpoint")
}

// load reads the configuration file and applies the flags that
// have been explicitly set, which take precedence.
func (sf *serverFlags) load(cmd *cobra.Command) (*serverConfig, error) {
	config, err := loadServerConfig(sf.configFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("backend") {
		config.Backend = sf.backend
	}
	if flags.Changed("address") {
		config.setAddress(sf.address)
	}
	if flags.Changed("condition") {
		config.Condition = sf.condition
		config.LinkCondition = nil
	}
	if flags.Changed("log-format") {
		config.LogFormat = sf.logFormat
	}
	if flags.Changed("log-level") {
		config.LogLevel = sf.logLevel
	}
	if flags.Changed("max-packets") {
		config.MaxPackets = sf.maxPackets
	}
	if flags.Changed("public-address") {
		config.RTC.PublicAddress = sf.publicAddress
	}
	if flags.Changed("session-address") {
		config.RTC.SessionAddress = sf.sessionAddress
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// newRootCmd creates the root command.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rtsockd",
		Short:         "Echo server for unreliable packet sockets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newConfigCmd(), newPresetsCmd(), newVersionCmd())
	return root
}

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	sf := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := sf.load(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), config, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	sf.register(cmd)
	return cmd
}

// newConfigCmd creates the config command.
func newConfigCmd() *cobra.Command {
	sf := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := sf.load(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(config); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	sf.register(cmd)
	return cmd
}

// newPresetsCmd creates the presets command.
func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the link condition presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range linkcond.Presets() {
				preset, err := linkcond.Parse(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s loss=%g latency=%s jitter=%s\n",
					name, preset.IncomingLoss, preset.IncomingLatency, preset.IncomingJitter)
			}
			return nil
		},
	}
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rtsockd %s\n", version)
		},
	}
}
