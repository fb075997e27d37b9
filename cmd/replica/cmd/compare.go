// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"strconv"

	"github.com/ethersphere/replica/pkg/version"
	"github.com/spf13/cobra"
)

const optionNameCentral = "central"

func (c *command) initCompareCmd() {
	cmd := &cobra.Command{
		Use:   "compare <version> <version>",
		Short: "Print the causal relation of two versions",
		Long: `Print the causal relation of the first version to the second one.

Versions are version vectors in the form "{<device>:<tick>, ...}", or
counters of the centralized regime with --central.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			central, err := cmd.Flags().GetBool(optionNameCentral)
			if err != nil {
				return err
			}

			if central {
				a, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid counter %q", args[0])
				}
				b, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid counter %q", args[1])
				}
				cmd.Println(version.CompareCentral(a, b))
				return nil
			}

			a, err := version.Parse(args[0])
			if err != nil {
				return err
			}
			b, err := version.Parse(args[1])
			if err != nil {
				return err
			}
			cmd.Println(a.Compare(b))
			return nil
		},
	}

	cmd.Flags().Bool(optionNameCentral, false, "compare counters of the centralized regime")
	c.root.AddCommand(cmd)
}
