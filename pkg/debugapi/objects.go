// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/jsonhttp"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/gorilla/mux"
)

type metaResponse struct {
	Type        string          `json:"type"`
	Parent      object.ObjectID `json:"parent"`
	Name        string          `json:"name"`
	Expelled    bool            `json:"expelled,omitempty"`
	Orphaned    bool            `json:"orphaned,omitempty"`
	AliasTarget object.ObjectID `json:"aliasTarget"`
	Version     string          `json:"version"`
}

type branchResponse struct {
	Index   object.BranchIndex `json:"index"`
	Length  int64              `json:"length"`
	ModTime int64              `json:"modTime"`
	Hash    object.Hash        `json:"hash"`
	Version string             `json:"version"`
}

// ObjectInfo holds the catalog records of one object.
type ObjectInfo struct {
	Meta           *metaResponse    `json:"meta,omitempty"`
	Branches       []branchResponse `json:"branches"`
	CentralVersion uint64           `json:"centralVersion,omitempty"`
	KnownMissing   string           `json:"knownMissing"`
	LocalChange    bool             `json:"localChange"`
}

// objectHandler reports the catalog records of one object.
func (s *Service) objectHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := strconv.ParseUint(vars["store"], 10, 32)
	if err != nil {
		jsonhttp.BadRequest(w, "invalid store id")
		return
	}
	store := object.StoreID(n)
	oid, err := object.ParseObjectID(vars["object"])
	if err != nil {
		jsonhttp.BadRequest(w, "invalid object id")
		return
	}

	resp, err := Inspect(s.catalog, store, oid)
	if errors.Is(err, catalog.ErrNotFound) {
		jsonhttp.NotFound(w, nil)
		return
	}
	if err != nil {
		s.logger.Errorf("debug api: inspect %d:%s: %v", store, oid, err)
		jsonhttp.InternalServerError(w, nil)
		return
	}
	jsonhttp.OK(w, resp)
}

// Inspect collects the catalog records of an object. It returns
// catalog.ErrNotFound if neither metadata nor content is known.
func Inspect(c catalog.Reader, store object.StoreID, oid object.ObjectID) (ObjectInfo, error) {
	resp := ObjectInfo{Branches: []branchResponse{}}

	m, err := c.Meta(store, oid)
	switch {
	case err == nil:
		mv, err := c.Version(object.MetaOf(store, oid), object.MasterBranch)
		if err != nil {
			return ObjectInfo{}, err
		}
		resp.Meta = &metaResponse{
			Type:        m.Type.String(),
			Parent:      m.Parent,
			Name:        m.Name,
			Expelled:    m.Flags&object.FlagExpelled != 0,
			Orphaned:    m.Flags&object.FlagOrphaned != 0,
			AliasTarget: m.AliasTarget,
			Version:     mv.String(),
		}
	case !errors.Is(err, catalog.ErrNotFound):
		return ObjectInfo{}, err
	}

	id := object.ContentOf(store, oid)
	branches, err := c.Branches(id)
	if err != nil {
		return ObjectInfo{}, err
	}
	for _, b := range branches {
		v, err := c.Version(id, b.Index)
		if err != nil {
			return ObjectInfo{}, err
		}
		resp.Branches = append(resp.Branches, branchResponse{
			Index:   b.Index,
			Length:  b.Length,
			ModTime: b.ModTime,
			Hash:    b.Hash,
			Version: v.String(),
		})
	}
	if resp.Meta == nil && len(resp.Branches) == 0 {
		return ObjectInfo{}, catalog.ErrNotFound
	}

	if resp.CentralVersion, err = c.CentralVersion(id); err != nil {
		return ObjectInfo{}, err
	}
	var kml version.Vector
	if kml, err = c.KML(id); err != nil {
		return ObjectInfo{}, err
	}
	resp.KnownMissing = kml.String()
	if resp.LocalChange, err = c.HasLocalChange(id); err != nil {
		return ObjectInfo{}, err
	}
	return resp, nil
}
