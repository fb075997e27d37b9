// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/ethersphere/replica"
	"github.com/ethersphere/replica/pkg/fetch"
	"github.com/spf13/cobra"
)

const optionNameProtocols = "protocols"

func (c *command) initVersionCmd() {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println(replica.Version)
			protocols, err := cmd.Flags().GetBool(optionNameProtocols)
			if err != nil {
				return err
			}
			if protocols {
				cmd.Println(fetch.ProtocolID)
			}
			return nil
		},
	}
	cmd.Flags().Bool(optionNameProtocols, false, "also print the versions of the peer protocols")
	c.root.AddCommand(cmd)
}
