// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tenthirtyam/go-xpra"
)

func capsCmd() *cobra.Command {
	var (
		output     string
		configPath string
		video      bool
	)

	cmd := &cobra.Command{
		Use:   "caps",
		Short: "Print the capabilities sent in the hello",
		Long: `Print the capability set this client advertises, in the order it is
built.

Examples:
  xpra-client caps
  xpra-client caps --output keys
  xpra-client caps --config client.yaml --video`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := xpra.DefaultCapabilityOptions()
			if configPath != "" {
				cfg, err := xpra.LoadConfig(configPath)
				if err != nil {
					return err
				}
				applyCapabilityConfig(&opts, cfg)
			}
			if video {
				opts.Encodings = append(opts.Encodings, xpra.VideoEncodings...)
			}
			caps := xpra.BuildCapabilities(opts)

			out := cmd.OutOrStdout()
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(caps); err != nil {
					return err
				}
				return enc.Close()
			case "keys":
				for _, k := range caps.Keys() {
					fmt.Fprintln(out, k)
				}
				return nil
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or keys")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Client configuration file")
	cmd.Flags().BoolVar(&video, "video", false, "Include video encodings")

	return cmd
}

func applyCapabilityConfig(opts *xpra.CapabilityOptions, cfg *xpra.FileConfig) {
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.UUID != "" {
		opts.UUID = cfg.UUID
	}
	if cfg.Desktop.Width > 0 && cfg.Desktop.Height > 0 {
		opts.DesktopWidth, opts.DesktopHeight = cfg.Desktop.Width, cfg.Desktop.Height
	}
	if cfg.Desktop.DPI > 0 {
		opts.DPI = cfg.Desktop.DPI
	}
	if len(cfg.Encodings) > 0 {
		opts.Encodings = cfg.Encodings
	}
}
