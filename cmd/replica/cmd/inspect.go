// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/debugapi"
	"github.com/spf13/cobra"
)

func (c *command) initInspectCmd() error {
	cmd := &cobra.Command{
		Use:   "inspect <store> <object>",
		Short: "Print the catalog records of an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, oid, err := parseObject(args)
			if err != nil {
				return err
			}

			cat, _, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			info, err := debugapi.Inspect(cat, store, oid)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return fmt.Errorf("object %s not found in store %d", oid, store)
				}
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setDataFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}
