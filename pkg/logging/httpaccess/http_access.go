// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httpaccess logs the requests served by the debug API.
//
// The access handler wraps the whole chain and stores a record in the
// request context. Handlers further down, behind the router or the
// compression handler, annotate the record through the context since the
// response writer they see is no longer the one the access handler
// created.
package httpaccess

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/ethersphere/replica/pkg/logging"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Record describes a served request.
type Record struct {
	// Route is the path template of the matched route, empty if no route
	// matched.
	Route    string
	Method   string
	Status   int
	Size     int
	Duration time.Duration
}

type entry struct {
	level  logrus.Level
	route  string
	fields logrus.Fields
}

type contextKey struct{}

func entryFrom(ctx context.Context) *entry {
	e, _ := ctx.Value(contextKey{}).(*entry)
	return e
}

// NewHTTPAccessLogHandler logs one line with the message for every served
// request at the level of the handler or of the endpoint. Every observer is
// called with the record of the request, also when the line is suppressed.
func NewHTTPAccessLogHandler(logger logging.Logger, level logrus.Level, message string, observers ...func(Record)) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			e := &entry{level: level}
			rl := &responseLogger{w: w}

			h.ServeHTTP(rl, r.WithContext(context.WithValue(r.Context(), contextKey{}, e)))

			status := rl.status
			if status == 0 {
				status = http.StatusOK
			}
			rec := Record{
				Route:    e.route,
				Method:   r.Method,
				Status:   status,
				Size:     rl.size,
				Duration: time.Since(startTime),
			}
			for _, o := range observers {
				o(rec)
			}

			if e.level == 0 {
				return
			}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			fields := logrus.Fields{
				"ip":       ip,
				"method":   r.Method,
				"uri":      r.RequestURI,
				"proto":    r.Proto,
				"status":   status,
				"size":     rl.size,
				"duration": rec.Duration.Seconds(),
			}
			if rec.Route != "" {
				fields["route"] = rec.Route
			}
			for k, v := range e.fields {
				fields[k] = v
			}
			if v := r.UserAgent(); v != "" {
				fields["user-agent"] = v
			}

			logger.WithFields(fields).Log(e.level, message)
		})
	}
}

// SetAccessLogLevelHandler overrides the level of the access log handler
// for one endpoint. Level 0 suppresses the line.
func SetAccessLogLevelHandler(level logrus.Level) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if e := entryFrom(r.Context()); e != nil {
				e.level = level
			}
			h.ServeHTTP(w, r)
		})
	}
}

// RouteHandler is a router middleware that adds the matched route and its
// variables, such as the store and the object of a catalog lookup, to the
// access log line.
func RouteHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if e := entryFrom(r.Context()); e != nil {
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					e.route = tpl
				}
			}
			vars := mux.Vars(r)
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if e.fields == nil {
					e.fields = make(logrus.Fields, len(vars))
				}
				e.fields[k] = vars[k]
			}
		}
		h.ServeHTTP(w, r)
	})
}

type responseLogger struct {
	w      http.ResponseWriter
	status int
	size   int
}

func (l *responseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *responseLogger) Flush() {
	if f, ok := l.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (l *responseLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := l.w.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

func (l *responseLogger) CloseNotify() <-chan bool {
	// required by the gorilla compress handler
	// nolint:staticcheck
	if n, ok := l.w.(http.CloseNotifier); ok {
		return n.CloseNotify()
	}
	return nil
}

func (l *responseLogger) Write(b []byte) (int, error) {
	size, err := l.w.Write(b)
	l.size += size
	return size, err
}

func (l *responseLogger) WriteHeader(s int) {
	l.w.WriteHeader(s)
	if l.status == 0 {
		l.status = s
	}
}
