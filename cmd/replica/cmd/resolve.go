// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethersphere/replica/pkg/causality"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/spf13/cobra"
)

const (
	optionNameHash    = "hash"
	optionNameLength  = "length"
	optionNameModTime = "mod-time"
)

type resolution struct {
	Target      object.BranchIndex   `json:"target"`
	NewBranch   bool                 `json:"newBranch"`
	Delta       string               `json:"delta"`
	Version     string               `json:"version"`
	Delete      []object.BranchIndex `json:"delete"`
	SkipIO      bool                 `json:"skipIO"`
	CopyFrom    *object.BranchIndex  `json:"copyFrom,omitempty"`
	KMLResolved string               `json:"kmlResolved"`
	Requires    string               `json:"requires,omitempty"`
	UpToDate    bool                 `json:"upToDate,omitempty"`
}

func (c *command) initResolveCmd() error {
	cmd := &cobra.Command{
		Use:   "resolve <store> <object> <version>",
		Short: "Show how an advertised content version would apply to the catalog",
		Long: `Resolve an advertisement of the content of an object against the catalog
without changing it.

The version is a version vector in the form "{<device>:<tick>, ...}", or a
counter of the centralized regime with --central.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, oid, err := parseObject(args)
			if err != nil {
				return err
			}
			adv, err := advertisement(cmd, args[2])
			if err != nil {
				return err
			}

			cat, _, err := c.openCatalog(cmd)
			if err != nil {
				return err
			}
			defer cat.Close()

			id := object.ContentOf(store, oid)
			res, err := causality.NewDispatcher(nil).Resolve(cat, id, adv)

			var out resolution
			var hashErr *causality.HashRequiredError
			switch {
			case errors.As(err, &hashErr):
				out.Requires = fmt.Sprintf("hashes of local branches %v", hashErr.Branches)
				if hashErr.Remote {
					out.Requires = "the advertised hash"
				}
			case err != nil:
				return err
			case res == nil:
				out.UpToDate = true
			default:
				out = resolution{
					Target:      res.Target,
					NewBranch:   res.NewBranch,
					Delta:       res.Delta.String(),
					Version:     res.Stamp.String(),
					Delete:      res.Delete,
					SkipIO:      res.SkipIO,
					CopyFrom:    res.CopyFrom,
					KMLResolved: res.KMLResolved.String(),
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config.BindPFlags(cmd.Flags())
		},
	}

	c.setDataFlags(cmd)
	cmd.Flags().Bool(optionNameCentral, false, "the version is a counter of the centralized regime")
	cmd.Flags().String(optionNameHash, "", "advertised content hash in hex")
	cmd.Flags().Int64(optionNameLength, 0, "advertised content length")
	cmd.Flags().Int64(optionNameModTime, 0, "advertised modification time")
	c.root.AddCommand(cmd)
	return nil
}

func advertisement(cmd *cobra.Command, v string) (adv causality.Advertisement, err error) {
	central, err := cmd.Flags().GetBool(optionNameCentral)
	if err != nil {
		return adv, err
	}
	if central {
		adv.Regime = version.RegimeCentralized
		if _, err := fmt.Sscan(v, &adv.Central); err != nil {
			return adv, fmt.Errorf("invalid counter %q", v)
		}
	} else if adv.Vector, err = version.Parse(v); err != nil {
		return adv, err
	}

	h, err := cmd.Flags().GetString(optionNameHash)
	if err != nil {
		return adv, err
	}
	if h != "" {
		if adv.Hash, err = hex.DecodeString(h); err != nil {
			return adv, fmt.Errorf("invalid hash: %w", err)
		}
	}
	if adv.Length, err = cmd.Flags().GetInt64(optionNameLength); err != nil {
		return adv, err
	}
	if adv.ModTime, err = cmd.Flags().GetInt64(optionNameModTime); err != nil {
		return adv, err
	}
	return adv, nil
}
