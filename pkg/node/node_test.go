// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/fetch"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/node"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p"
	"github.com/ethersphere/replica/pkg/p2p/streamtest"
	"github.com/ethersphere/replica/pkg/version"
	"github.com/spf13/afero"
)

const store object.StoreID = 1

var (
	devA = object.MustParseDeviceID("00000000-0000-0000-0000-00000000000a")
	devB = object.MustParseDeviceID("00000000-0000-0000-0000-00000000000b")
)

func newNode(t *testing.T, o node.Options) *node.Node {
	t.Helper()
	if o.Logger == nil {
		o.Logger = logging.New(io.Discard, 0)
	}
	n, err := node.New(o)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := n.Shutdown(context.Background()); err != nil && !errors.Is(err, node.ErrShutdownInProgress) {
			t.Error(err)
		}
	})
	if err := catalog.Update(n.Catalog(), func(tx catalog.Tx) error { return tx.CreateStore(store) }); err != nil {
		t.Fatal(err)
	}
	return n
}

// putFile writes an object with its metadata and content. The content
// hash is left for the hasher to compute.
func putFile(t *testing.T, n *node.Node, oid object.ObjectID, data []byte) object.Signature {
	t.Helper()
	id := object.ContentOf(store, oid)
	sig, err := n.Store().Write(id, object.MasterBranch, data, time.Unix(1600000000, 0))
	if err != nil {
		t.Fatal(err)
	}
	err = catalog.Update(n.Catalog(), func(tx catalog.Tx) error {
		if err := tx.SetMeta(store, oid, object.Meta{Type: object.TypeFile, Name: "file"}); err != nil {
			return err
		}
		if err := tx.AddVersion(object.MetaOf(store, oid), object.MasterBranch, version.Of(devA, 1)); err != nil {
			return err
		}
		if err := tx.SetContent(id, object.Branch{Index: object.MasterBranch, Length: sig.Length, ModTime: sig.ModTime}); err != nil {
			return err
		}
		return tx.AddVersion(id, object.MasterBranch, version.Of(devA, 1))
	})
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func TestNodeFetch(t *testing.T) {
	a := newNode(t, node.Options{Self: devA})
	recorder := streamtest.New(streamtest.WithProtocols(a.Protocol()), streamtest.WithBaseAddr(devB))
	b := newNode(t, node.Options{Self: devB, Streamer: recorder, RetryDelay: 5 * time.Millisecond})

	oid := object.NewObjectID()
	data := []byte("replicated content")
	putFile(t, a, oid, data)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	from, err := b.Downloader().FetchSync(ctx, object.ContentOf(store, oid), []object.DeviceID{devA}, object.PriorityDefault)
	if err != nil {
		t.Fatal(err)
	}
	if from != devA {
		t.Fatalf("fetched from %s, want %s", from, devA)
	}

	f, err := b.Store().Open(object.ContentOf(store, oid), object.MasterBranch)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got content %q, want %q", got, data)
	}

	// the server hashed the content before sending it
	br, err := a.Catalog().Branch(object.ContentOf(store, oid), object.MasterBranch)
	if err != nil {
		t.Fatal(err)
	}
	if !br.Hash.Equal(object.HashBytes(data)) {
		t.Fatalf("got recorded hash %s, want %s", br.Hash, object.HashBytes(data))
	}
}

func TestNodeWithoutTransport(t *testing.T) {
	n := newNode(t, node.Options{Self: devA, MaxTransientRetries: 1, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := n.Downloader().FetchSync(ctx, object.MetaOf(store, object.NewObjectID()), []object.DeviceID{devB}, object.PriorityDefault)
	var failure *fetch.FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("got error %v, want failure", err)
	}
	if !errors.Is(failure.Reasons[devB], p2p.ErrPeerNotFound) {
		t.Fatalf("got reason %v, want %v", failure.Reasons[devB], p2p.ErrPeerNotFound)
	}
}

func TestNodeRecordsHash(t *testing.T) {
	n := newNode(t, node.Options{Self: devA})
	oid := object.NewObjectID()
	data := []byte("to be hashed")
	sig := putFile(t, n, oid, data)
	id := object.ContentOf(store, oid)

	h, err := n.Hasher().Hash(context.Background(), id, object.MasterBranch, sig)
	if err != nil {
		t.Fatal(err)
	}
	b, err := n.Catalog().Branch(id, object.MasterBranch)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Hash.Equal(h) {
		t.Fatalf("got recorded hash %s, want %s", b.Hash, h)
	}
}

func TestNodeDataDir(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()

	n, err := node.New(node.Options{Self: devA, DataDir: dir, Fs: fs, Logger: logging.New(io.Discard, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := catalog.Update(n.Catalog(), func(tx catalog.Tx) error { return tx.CreateStore(store) }); err != nil {
		t.Fatal(err)
	}
	if err := n.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	n = newNode(t, node.Options{Self: devA, DataDir: dir, Fs: fs})
	ok, err := n.Catalog().StoreExists(store)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("store does not survive a restart")
	}
}

func TestNodeDebugAPI(t *testing.T) {
	n := newNode(t, node.Options{Self: devA, DebugAPIAddr: "127.0.0.1:0"})

	for _, path := range []string{"/health", "/readiness", "/tokens"} {
		resp, err := http.Get("http://" + n.DebugAPIAddr().String() + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: got status %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestNewDefaultOptions(t *testing.T) {
	n, err := node.New(node.Options{Self: object.NewDeviceID()})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestNodeMetrics(t *testing.T) {
	n := newNode(t, node.Options{Self: devA, DebugAPIAddr: "127.0.0.1:0"})

	resp, err := http.Get("http://" + n.DebugAPIAddr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"replica_transfer_bytes_sent_total",
		"replica_transfer_bytes_received_total",
		"replica_transfer_hashes_computed_total",
	} {
		if got := strings.Count(string(body), "# HELP "+name+" "); got != 1 {
			t.Errorf("%s: exposed %d times, want once", name, got)
		}
	}
}

func TestShutdown(t *testing.T) {
	n, err := node.New(node.Options{Self: devA, Logger: logging.New(io.Discard, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := n.Shutdown(context.Background()); !errors.Is(err, node.ErrShutdownInProgress) {
		t.Fatalf("got error %v, want %v", err, node.ErrShutdownInProgress)
	}
}

func TestNewWithoutDevice(t *testing.T) {
	if _, err := node.New(node.Options{}); err == nil {
		t.Fatal("expected error")
	}
}
