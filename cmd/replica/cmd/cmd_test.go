// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd_test

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/ethersphere/replica/cmd/replica/cmd"
	"gopkg.in/yaml.v2"
)

var homeDir string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "replica-cmd-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	homeDir = dir

	code := m.Run()
	if err := os.RemoveAll(dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

func newCommand(t *testing.T, opts ...cmd.Option) (c *cmd.Command) {
	t.Helper()

	c, err := cmd.NewCommand(append([]cmd.Option{cmd.WithHomeDir(homeDir), cmd.WithErrorOutput(io.Discard)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfg, err := os.CreateTemp(t.TempDir(), "replica-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.WriteString(content); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Close(); err != nil {
		t.Fatal(err)
	}
	return cfg.Name()
}

func TestConfigFile(t *testing.T) {
	err := newCommand(t,
		cmd.WithCfgFile(writeConfig(t, "verbosity: shouting\n")),
		cmd.WithArgs("inspect", "--data-dir", t.TempDir(), "1", "00000000-0000-0000-0000-000000000001"),
	).Execute()
	if err == nil || err.Error() != `unknown verbosity level "shouting"` {
		t.Fatalf("got error %v, want the verbosity from the config file to be rejected", err)
	}
}

func TestConfigCmd(t *testing.T) {
	t.Setenv("REPLICA_VERBOSITY", "debug")

	var out bytes.Buffer
	if err := newCommand(t,
		cmd.WithCfgFile(writeConfig(t, "chunk-size: 4096\n")),
		cmd.WithArgs("config", "--data-dir", "/var/lib/replica"),
		cmd.WithOutput(&out),
	).Execute(); err != nil {
		t.Fatal(err)
	}

	var got map[string]interface{}
	if err := yaml.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	for key, want := range map[string]interface{}{
		"chunk-size": 4096,
		"data-dir":   "/var/lib/replica",
		"verbosity":  "debug",
		"log-format": "text",
	} {
		if got[key] != want {
			t.Errorf("%s: got %v, want %v", key, got[key], want)
		}
	}
}

func TestConfigFlag(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		want int
	}{
		{
			name: "default file",
			want: 4096,
		},
		{
			name: "flag",
			args: []string{"--config", writeConfig(t, "chunk-size: 2048\n")},
			want: 2048,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := newCommand(t,
				cmd.WithCfgFile(writeConfig(t, "chunk-size: 4096\n")),
				cmd.WithArgs(append([]string{"config"}, tc.args...)...),
				cmd.WithOutput(&out),
			).Execute(); err != nil {
				t.Fatal(err)
			}

			var got map[string]interface{}
			if err := yaml.Unmarshal(out.Bytes(), &got); err != nil {
				t.Fatalf("decode %q: %v", out.String(), err)
			}
			if got["chunk-size"] != tc.want {
				t.Fatalf("chunk-size: got %v, want %v", got["chunk-size"], tc.want)
			}
		})
	}
}
