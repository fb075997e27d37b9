// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethersphere/replica/pkg/object"
)

const deviceIDFile = "device-id"

// deviceID returns the configured device id. Without one, the id stored
// in the data directory is used, and a new one is stored if there is
// none. A replica without a data directory gets a new id on every start.
func deviceID(dataDir, configured string) (object.DeviceID, error) {
	if configured != "" {
		return object.ParseDeviceID(configured)
	}
	if dataDir == "" {
		return object.NewDeviceID(), nil
	}

	path := filepath.Join(dataDir, deviceIDFile)
	b, err := os.ReadFile(path)
	if err == nil {
		return object.ParseDeviceID(strings.TrimSpace(string(b)))
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return object.ZeroDevice, err
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return object.ZeroDevice, fmt.Errorf("create data directory: %w", err)
	}
	d := object.NewDeviceID()
	if err := os.WriteFile(path, []byte(d.String()+"\n"), 0o600); err != nil {
		return object.ZeroDevice, err
	}
	return d, nil
}
