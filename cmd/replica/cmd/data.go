// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethersphere/replica/pkg/catalog/leveldb"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/node"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/spf13/cobra"
)

// openCatalog opens the catalog of the configured data directory. The
// replica must not be running.
func (c *command) openCatalog(cmd *cobra.Command) (*leveldb.Catalog, logging.Logger, error) {
	logger, err := c.newLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	dataDir := c.config.GetString(optionNameDataDir)
	if dataDir == "" {
		return nil, nil, errors.New("no data-dir provided")
	}

	logger.Debugf("opening catalog in %s", dataDir)
	cat, err := leveldb.New(node.CatalogPath(dataDir), &leveldb.Options{
		BlockCacheCapacity:     c.config.GetUint64(optionNameDBBlockCacheCapacity),
		WriteBufferSize:        c.config.GetUint64(optionNameDBWriteBufferSize),
		OpenFilesCacheCapacity: c.config.GetUint64(optionNameDBOpenFilesLimit),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: %w", err)
	}
	return cat, logger, nil
}

// parseObject parses the store and object arguments.
func parseObject(args []string) (object.StoreID, object.ObjectID, error) {
	store, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, object.Root, fmt.Errorf("invalid store %q", args[0])
	}
	oid, err := object.ParseObjectID(args[1])
	if err != nil {
		return 0, object.Root, fmt.Errorf("invalid object %q: %w", args[1], err)
	}
	return object.StoreID(store), oid, nil
}
