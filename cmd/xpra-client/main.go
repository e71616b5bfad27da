// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Command xpra-client connects to an xpra server and mirrors its windows
// headlessly, exporting session metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "xpra-client",
		Short: "Headless xpra protocol client",
		Long: `xpra-client speaks the xpra remote display protocol over a websocket.

It negotiates capabilities, answers authentication challenges, keeps an
offscreen copy of every remote window and acknowledges each paint, which
makes it useful for probing servers and for load testing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		connectCmd(),
		capsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
