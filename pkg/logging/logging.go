// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging provides the logger interface abstraction
// and implementation for the replica daemon. It uses logrus under the hood.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type Logger interface {
	Tracef(format string, args ...interface{})
	Trace(args ...interface{})
	Debugf(format string, args ...interface{})
	Debug(args ...interface{})
	Infof(format string, args ...interface{})
	Info(args ...interface{})
	Warningf(format string, args ...interface{})
	Warning(args ...interface{})
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	WithField(key string, value interface{}) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	WriterLevel(logrus.Level) *io.PipeWriter
	NewEntry() *logrus.Entry
	Metrics() []prometheus.Collector
}

type logger struct {
	*logrus.Logger
	metrics metrics
}

// Format selects how log lines are written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New returns a logger that writes text lines at the level to w.
func New(w io.Writer, level logrus.Level) Logger {
	return NewWithFormat(w, level, FormatText)
}

// NewWithFormat returns a logger that writes lines in the format at the
// level to w. An unknown format falls back to text.
func NewWithFormat(w io.Writer, level logrus.Level, format Format) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	switch format {
	case FormatJSON:
		l.Formatter = &logrus.JSONFormatter{}
	default:
		l.Formatter = &logrus.TextFormatter{
			FullTimestamp: true,
		}
	}
	metrics := newMetrics()
	l.AddHook(metrics)
	return &logger{
		Logger:  l,
		metrics: metrics,
	}
}

func (l *logger) NewEntry() *logrus.Entry {
	return logrus.NewEntry(l.Logger)
}

// ParseVerbosity maps a verbosity given by name or by number, from
// 0=silent to 5=trace, to a level. Silent maps to the panic level, which
// nothing in the daemon logs at.
func ParseVerbosity(v string) (logrus.Level, error) {
	switch strings.ToLower(v) {
	case "0", "silent":
		return logrus.PanicLevel, nil
	case "1", "error":
		return logrus.ErrorLevel, nil
	case "2", "warn":
		return logrus.WarnLevel, nil
	case "3", "info":
		return logrus.InfoLevel, nil
	case "4", "debug":
		return logrus.DebugLevel, nil
	case "5", "trace":
		return logrus.TraceLevel, nil
	}
	return 0, fmt.Errorf("unknown verbosity level %q", v)
}

// ParseFormat validates the name of a log format.
func ParseFormat(v string) (Format, error) {
	switch f := Format(strings.ToLower(v)); f {
	case FormatText, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown log format %q", v)
}
