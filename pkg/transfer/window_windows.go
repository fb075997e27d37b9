// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transfer

// File handle churn is expensive on windows, read many chunks per open.
const windowChunks = 16
