// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/ethersphere/replica/pkg/jsonhttp"
	"github.com/ethersphere/replica/pkg/token"
)

type tokensResponse struct {
	Categories []token.Stat `json:"categories"`
}

func (s *Service) tokensHandler(w http.ResponseWriter, _ *http.Request) {
	jsonhttp.OK(w, tokensResponse{Categories: s.tokens.Stats()})
}
