// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "railroad",
		Short: "Route submission and mainline service for glander.club",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "railroad.yaml", "path to the config file")

	root.AddCommand(newServeCmd(), newRefreshBoldsCmd(), newVerifyRoutesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the railroad service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newRefreshBoldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-bolds",
		Short: "Pull bold values from the scores API once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefreshBolds(cmd.Context())
		},
	}
}

func newVerifyRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-routes",
		Short: "Revalidate every stored route against the simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyRoutes(cmd.Context())
		},
	}
}
