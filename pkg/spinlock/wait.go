// Copyright 2022 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spinlock polls a condition until it holds or a timeout expires.
// It is used by tests that wait for asynchronous effects such as a
// download leaving the task list.
package spinlock

import (
	"context"
	"errors"
	"time"
)

var ErrTimedOut = errors.New("timed out waiting for condition")

const pollInterval = 10 * time.Millisecond

// Wait blocks until either the condition is satisfied or the timeout elapses.
func Wait(timeout time.Duration, cond func() bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := WaitContext(ctx, cond); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimedOut
		}
		return err
	}
	return nil
}

// WaitContext blocks until the condition is satisfied or the context is
// done, in which case it returns the cause of the context.
func WaitContext(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
	}
}
