// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node bootstraps a replica by constructing the catalog, the
// physical store and the reconciliation engine and injecting them into
// each other.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethersphere/replica/pkg/catalog"
	"github.com/ethersphere/replica/pkg/catalog/leveldb"
	"github.com/ethersphere/replica/pkg/debugapi"
	"github.com/ethersphere/replica/pkg/fetch"
	"github.com/ethersphere/replica/pkg/logging"
	"github.com/ethersphere/replica/pkg/object"
	"github.com/ethersphere/replica/pkg/p2p"
	"github.com/ethersphere/replica/pkg/physical"
	"github.com/ethersphere/replica/pkg/token"
	"github.com/ethersphere/replica/pkg/tracing"
	"github.com/ethersphere/replica/pkg/transfer"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// ErrShutdownInProgress is returned by Shutdown when it was already called.
var ErrShutdownInProgress = errors.New("shutdown in progress")

const (
	catalogDir = "catalog"
	contentDir = "content"
	memoryRoot = "/replica"
)

type Node struct {
	catalog        *leveldb.Catalog
	store          *physical.Store
	tokens         *token.Manager
	hasher         *transfer.Hasher
	server         *fetch.Server
	downloader     *fetch.Downloader
	debugAPI       *debugapi.Service
	debugAPIServer *http.Server
	debugAPIAddr   net.Addr
	tracerCloser   io.Closer
	errorLogWriter *io.PipeWriter
	logger         logging.Logger

	shutdownInProgress bool
	shutdownMutex      sync.Mutex
}

type Options struct {
	// DataDir holds the catalog and the content. An empty value keeps
	// everything in memory.
	DataDir              string
	DBBlockCacheCapacity uint64
	DBWriteBufferSize    uint64
	DBOpenFilesLimit     uint64
	// Fs is the filesystem of the content. It defaults to the operating
	// system filesystem, or to a memory filesystem without DataDir.
	Fs afero.Fs

	Self            object.DeviceID
	ChunkSize       int
	RequireHash     bool
	UploadRateLimit float64
	HashCacheSize   int
	TokenCapacities map[token.Category]int
	ServerWait      time.Duration

	RetryDelay          time.Duration
	MaxRetryDelay       time.Duration
	MaxTransientRetries int
	MaxHashMismatches   int
	RoundTimeout        time.Duration

	// Streamer opens streams to peers. Without one every peer is
	// unreachable.
	Streamer p2p.Streamer

	DebugAPIAddr       string
	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
	TracingSampleRate  float64

	Logger logging.Logger
}

func New(o Options) (n *Node, err error) {
	start := time.Now()
	logger := o.Logger
	if logger == nil {
		logger = logging.New(io.Discard, 0)
	}
	if o.Self.IsZero() {
		return nil, errors.New("device id is not set")
	}

	n = &Node{
		logger:         logger,
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
	}
	defer func() {
		if err != nil {
			if serr := n.Shutdown(context.Background()); serr != nil && !errors.Is(serr, ErrShutdownInProgress) {
				logger.Debugf("node: cleanup after failed start: %v", serr)
			}
		}
	}()

	// the basic debug routes are served while the rest is constructed
	n.debugAPI = debugapi.New(logger)
	if o.DebugAPIAddr != "" {
		if err := n.startDebugAPI(o.DebugAPIAddr); err != nil {
			return n, err
		}
	}

	tracer, tracerCloser, err := tracing.NewTracer(&tracing.Options{
		Enabled:     o.TracingEnabled,
		Endpoint:    o.TracingEndpoint,
		ServiceName: o.TracingServiceName,
		Device:      o.Self.String(),
		SampleRate:  o.TracingSampleRate,
	})
	if err != nil {
		return n, fmt.Errorf("tracer: %w", err)
	}
	n.tracerCloser = tracerCloser

	fs, root := o.Fs, ContentPath(o.DataDir)
	if o.DataDir == "" {
		n.catalog, err = leveldb.NewInMemory(logger)
		if fs == nil {
			fs = afero.NewMemMapFs()
		}
		root = memoryRoot
	} else {
		n.catalog, err = leveldb.New(CatalogPath(o.DataDir), &leveldb.Options{
			BlockCacheCapacity:     o.DBBlockCacheCapacity,
			WriteBufferSize:        o.DBWriteBufferSize,
			OpenFilesCacheCapacity: o.DBOpenFilesLimit,
		}, logger)
		if fs == nil {
			fs = afero.NewOsFs()
		}
	}
	if err != nil {
		return n, fmt.Errorf("catalog: %w", err)
	}

	n.store, err = physical.New(fs, root, logger)
	if err != nil {
		return n, fmt.Errorf("physical store: %w", err)
	}

	n.tokens = token.NewManager(o.TokenCapacities, logger)

	n.hasher, err = transfer.NewHasher(n.store, n.tokens, transfer.HasherOptions{
		CacheSize: o.HashCacheSize,
		OnHash:    n.recordHash,
	}, logger)
	if err != nil {
		return n, fmt.Errorf("hasher: %w", err)
	}

	sender := transfer.NewSender(n.store, n.hasher, transfer.SenderOptions{
		ChunkSize:   o.ChunkSize,
		RequireHash: o.RequireHash,
		RateLimit:   o.UploadRateLimit,
	}, logger)

	n.server = fetch.NewServer(fetch.ServerOptions{
		Catalog: n.catalog,
		Sender:  sender,
		Tokens:  n.tokens,
		Tracer:  tracer,
		Wait:    o.ServerWait,
		Logger:  logger,
	})

	streamer := o.Streamer
	if streamer == nil {
		streamer = unreachable{}
	}
	n.downloader = fetch.New(fetch.Options{
		Self:                o.Self,
		Streamer:            streamer,
		Catalog:             n.catalog,
		Store:               n.store,
		Hasher:              n.hasher,
		Tokens:              n.tokens,
		Tracer:              tracer,
		RetryDelay:          o.RetryDelay,
		MaxRetryDelay:       o.MaxRetryDelay,
		MaxTransientRetries: o.MaxTransientRetries,
		MaxHashMismatches:   o.MaxHashMismatches,
		RoundTimeout:        o.RoundTimeout,
		Logger:              logger,
	})

	m := newMetrics()
	n.debugAPI.MustRegisterMetrics(logger.Metrics()...)
	n.debugAPI.MustRegisterMetrics(n.catalog.Metrics()...)
	n.debugAPI.MustRegisterMetrics(n.tokens.Metrics()...)
	n.debugAPI.MustRegisterMetrics(n.hasher.Metrics()...)
	// the server carries the metrics of its sender
	n.debugAPI.MustRegisterMetrics(n.server.Metrics()...)
	n.debugAPI.MustRegisterMetrics(n.downloader.Metrics()...)
	n.debugAPI.MustRegisterMetrics(m.collectors()...)

	n.debugAPI.Configure(n.downloader, n.tokens, n.catalog)

	m.StartupDuration.Observe(time.Since(start).Seconds())
	logger.Infof("replica %s started", o.Self)
	return n, nil
}

// CatalogPath returns the location of the catalog database in a data
// directory.
func CatalogPath(dataDir string) string {
	return filepath.Join(dataDir, catalogDir)
}

// ContentPath returns the root of the physical store in a data directory.
func ContentPath(dataDir string) string {
	return filepath.Join(dataDir, contentDir)
}

func (n *Node) startDebugAPI(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("debug api listener: %w", err)
	}

	srv := &http.Server{
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
		Handler:           n.debugAPI,
		ErrorLog:          stdlog.New(n.errorLogWriter, "", 0),
	}

	go func() {
		n.logger.Infof("debug api address: %s", l.Addr())

		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Debugf("debug api server: %v", err)
			n.logger.Error("unable to serve debug api")
		}
	}()

	n.debugAPIServer = srv
	n.debugAPIAddr = l.Addr()
	return nil
}

// recordHash stores a computed hash in the catalog if the branch still
// has the signature the hash was computed for.
func (n *Node) recordHash(id object.Identity, idx object.BranchIndex, sig object.Signature, h object.Hash) {
	err := catalog.Update(n.catalog, func(tx catalog.Tx) error {
		b, err := tx.Branch(id, idx)
		if err != nil {
			return err
		}
		if b.Signature() != sig || b.Hash.Equal(h) {
			return nil
		}
		return tx.SetHash(id, idx, h)
	})
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		n.logger.Debugf("node: record hash of %s branch %d: %v", id, idx, err)
	}
}

func (n *Node) Catalog() *leveldb.Catalog { return n.catalog }

func (n *Node) Store() *physical.Store { return n.store }

func (n *Node) Tokens() *token.Manager { return n.tokens }

func (n *Node) Hasher() *transfer.Hasher { return n.hasher }

func (n *Node) Downloader() *fetch.Downloader { return n.downloader }

func (n *Node) DebugAPI() *debugapi.Service { return n.debugAPI }

// DebugAPIAddr returns the address the debug API listens on, or nil if
// it is not served.
func (n *Node) DebugAPIAddr() net.Addr { return n.debugAPIAddr }

// Protocol returns the protocol peers use to fetch from this replica.
func (n *Node) Protocol() p2p.ProtocolSpec { return n.server.Protocol() }

// Shutdown stops the debug API, cancels running downloads and closes the
// storage. It returns ErrShutdownInProgress if it was already called.
func (n *Node) Shutdown(ctx context.Context) error {
	var mErr error

	// if a shutdown is already in process, return here
	n.shutdownMutex.Lock()
	if n.shutdownInProgress {
		n.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	n.shutdownInProgress = true
	n.shutdownMutex.Unlock()

	// tryClose is a convenient closure which decrease
	// repetitive io.Closer tryClose procedure.
	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	var eg errgroup.Group
	if n.debugAPIServer != nil {
		eg.Go(func() error {
			if err := n.debugAPIServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("debug api server: %w", err)
			}
			return nil
		})
	}
	if n.downloader != nil {
		eg.Go(func() error {
			if err := n.downloader.Close(); err != nil {
				return fmt.Errorf("downloader: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	if n.store != nil {
		tryClose(n.store, "physical store")
	}
	if n.catalog != nil {
		tryClose(n.catalog, "catalog")
	}
	tryClose(n.tracerCloser, "tracer")
	tryClose(n.errorLogWriter, "error log writer")

	return mErr
}

// unreachable is the streamer of a node without a transport.
type unreachable struct{}

func (unreachable) NewStream(context.Context, object.DeviceID, string, string, string) (p2p.Stream, error) {
	return nil, p2p.ErrPeerNotFound
}
