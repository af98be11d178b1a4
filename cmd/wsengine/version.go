// File: cmd/wsengine/version.go
// Author: momentics <momentics@gmail.com>

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wsengine/%s (%s, %s-%s)\n", version, commit, runtime.GOOS, runtime.GOARCH)
		},
	}
}
