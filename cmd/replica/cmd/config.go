// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// initConfigCmd prints the options start would run with, merged from the
// flags, the environment and the config file. The output is a valid
// config file.
func (c *command) initConfigCmd() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print configuration options",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			b, err := yaml.Marshal(c.config.AllSettings())
			if err != nil {
				return fmt.Errorf("encode configuration: %w", err)
			}
			cmd.Print(string(b))
			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setStartFlags(cmd)
	c.root.AddCommand(cmd)
}
