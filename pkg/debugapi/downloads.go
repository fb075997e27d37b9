// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethersphere/replica/pkg/fetch"
	"github.com/ethersphere/replica/pkg/jsonhttp"
	"github.com/ethersphere/replica/pkg/object"
)

type downloadsResponse struct {
	Tasks []fetch.TaskInfo `json:"tasks"`
}

func (s *Service) downloadsHandler(w http.ResponseWriter, _ *http.Request) {
	tasks := s.downloader.Tasks()
	if tasks == nil {
		tasks = []fetch.TaskInfo{}
	}
	jsonhttp.OK(w, downloadsResponse{Tasks: tasks})
}

type fetchRequest struct {
	Store    object.StoreID    `json:"store"`
	Object   string            `json:"object"`
	Kind     string            `json:"kind"`
	Peers    []object.DeviceID `json:"peers"`
	Priority object.Priority   `json:"priority"`
}

type fetchResponse struct {
	Identity object.Identity `json:"identity"`
}

func parseKind(s string) (object.Kind, error) {
	switch s {
	case "meta":
		return object.KindMeta, nil
	case "content", "":
		return object.KindContent, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// fetchHandler enqueues a download. The outcome is only logged.
func (s *Service) fetchHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if jsonhttp.HandleBodyReadError(err, w) {
			return
		}
		s.logger.Debugf("debug api: fetch: read request: %v", err)
		jsonhttp.InternalServerError(w, nil)
		return
	}

	var req fetchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		jsonhttp.BadRequest(w, "invalid request body")
		return
	}
	oid, err := object.ParseObjectID(req.Object)
	if err != nil {
		jsonhttp.BadRequest(w, "invalid object id")
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		jsonhttp.BadRequest(w, err)
		return
	}

	id := object.Identity{Store: req.Store, Object: oid, Kind: kind}
	err = s.downloader.Fetch(id, req.Peers, req.Priority, fetch.ListenerFuncs{
		Success: func(id object.Identity, peer object.DeviceID) {
			s.logger.Infof("debug api: fetched %s from %s", id, peer)
		},
		Failure: func(id object.Identity, err error) {
			s.logger.Warningf("debug api: fetch %s: %v", id, err)
		},
	})
	switch {
	case errors.Is(err, fetch.ErrNoCandidates):
		jsonhttp.BadRequest(w, "no peers")
		return
	case errors.Is(err, fetch.ErrClosed):
		jsonhttp.ServiceUnavailable(w, "shutting down")
		return
	case err != nil:
		s.logger.Errorf("debug api: fetch %s: %v", id, err)
		jsonhttp.InternalServerError(w, nil)
		return
	}
	jsonhttp.Accepted(w, fetchResponse{Identity: id})
}
