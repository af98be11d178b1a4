// File: cmd/wsengine/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/momentics/wsengine/config"
	"github.com/momentics/wsengine/server"
)

var (
	// Set via ldflags at build time.
	version = "dev"
	commit  = "none"
)

var (
	flagConfigPath string
	flagVerbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wsengine",
		Short:         "RFC 6455 WebSocket server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to JSON config file")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log every protocol event")

	root.AddCommand(
		newServeCmd(),
		newAcceptKeyCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads --config over the defaults.
func loadConfig() (*server.Config, error) {
	return config.Load(flagConfigPath)
}
