// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package p2p

// DisconnectError is returned by a protocol handler to ask the transport
// to drop the connection to the peer.
type DisconnectError struct {
	err error
}

// Disconnect wraps err so that the transport disconnects the peer that
// caused it.
func Disconnect(err error) error {
	return &DisconnectError{
		err: err,
	}
}

func (e *DisconnectError) Unwrap() error { return e.err }

func (e *DisconnectError) Error() string {
	return e.err.Error()
}
