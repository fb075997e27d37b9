// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/catalog/leveldb"
	"github.com/ethersphere/replica/pkg/debugapi"
	"github.com/ethersphere/replica/pkg/fetch"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/token"
	"resenje.org/web"
)

type fetchCall struct {
	id    object.Identity
	peers []object.DeviceID
	prio  object.Priority
}

type downloaderMock struct {
	mu    sync.Mutex
	calls []fetchCall
	tasks []fetch.TaskInfo
	err   error
}

func (d *downloaderMock) Fetch(id object.Identity, peers []object.DeviceID, prio object.Priority, _ fetch.Listener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, fetchCall{id: id, peers: peers, prio: prio})
	return nil
}

func (d *downloaderMock) Tasks() []fetch.TaskInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks
}

type testServerOptions struct {
	Downloader *downloaderMock
	Catalog    catalog.Catalog
	// Unconfigured serves only the basic routes.
	Unconfigured bool
}

func newTestServer(t *testing.T, o testServerOptions) *http.Client {
	t.Helper()
	logger := logging.New(io.Discard, 0)

	if o.Downloader == nil {
		o.Downloader = new(downloaderMock)
	}
	if o.Catalog == nil {
		c, err := leveldb.NewInMemory(logger)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = c.Close() })
		o.Catalog = c
	}

	s := debugapi.New(logger)
	if !o.Unconfigured {
		s.Configure(o.Downloader, token.NewManager(nil, logger), o.Catalog)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return &http.Client{
		Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			u, err := url.Parse(ts.URL + r.URL.String())
			if err != nil {
				return nil, err
			}
			r.URL = u
			return ts.Client().Transport.RoundTrip(r)
		}),
	}
}
