// File: cmd/wsengine/acceptkey.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/momentics/wsengine/protocol"
)

func newAcceptKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept-key [Sec-WebSocket-Key]",
		Short: "Compute Sec-WebSocket-Accept for a client key (random key if omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				var raw [16]byte
				if _, err := rand.Read(raw[:]); err != nil {
					return err
				}
				key = base64.StdEncoding.EncodeToString(raw[:])
			}
			if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
				return fmt.Errorf("%q is not a base64 encoded 16-byte key", key)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sec-WebSocket-Key: %s\nSec-WebSocket-Accept: %s\n", key, protocol.ComputeAcceptKey(key))
			return nil
		},
	}
}
