// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethersphere/replica/pkg/node"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/physical"
	"github.com/ethersphere/replica/pkg/transfer"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// ErrVerificationFailed is returned when a branch does not have the
// content its recorded hash describes.
var ErrVerificationFailed = errors.New("verification failed")

func (c *command) initVerifyCmd() error {
	cmd := &cobra.Command{
		Use:   "verify <store> <object>",
		Short: "Hash the content branches of an object and compare them with the catalog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, oid, err := parseObject(args)
			if err != nil {
				return err
			}

			cat, logger, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			s, err := physical.New(afero.NewOsFs(), node.ContentPath(c.config.GetString(optionNameDataDir)), logger)
			if err != nil {
				return fmt.Errorf("physical store: %w", err)
			}
			defer s.Close()

			hasher, err := transfer.NewHasher(s, nil, transfer.HasherOptions{}, logger)
			if err != nil {
				return err
			}

			id := object.ContentOf(store, oid)
			bs, err := cat.Branches(id)
			if err != nil {
				return err
			}
			if len(bs) == 0 {
				return fmt.Errorf("object %s has no content in store %d", oid, store)
			}

			failed := false
			for _, b := range bs {
				h, err := hasher.Hash(context.Background(), id, b.Index, b.Signature())
				switch {
				case err != nil:
					failed = true
					cmd.Printf("branch %d: %v\n", b.Index, err)
				case b.Hash.IsZero():
					cmd.Printf("branch %d: %s (not recorded)\n", b.Index, h)
				case !b.Hash.Equal(h):
					failed = true
					cmd.Printf("branch %d: %s, recorded %s\n", b.Index, h, b.Hash)
				default:
					cmd.Printf("branch %d: %s ok\n", b.Index, h)
				}
			}
			if failed {
				return ErrVerificationFailed
			}
			return nil
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setDataFlags(cmd)
	c.root.AddCommand(cmd)
	return nil
}
