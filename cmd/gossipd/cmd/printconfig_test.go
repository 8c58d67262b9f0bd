// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/tradenet/gossipd/cmd/gossipd/cmd"
	"gopkg.in/yaml.v2"
)

func TestPrintConfigCmd(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		env  map[string]string
		want map[string]string
	}{
		{
			name: "defaults",
			want: map[string]string{
				"p2p-addr":       ":7070",
				"debug-api-addr": ":7071",
				"network-id":     "1",
				"purge-interval": "1m0s",
				"verbosity":      "info",
			},
		},
		{
			name: "flags",
			args: []string{"--network-id", "5", "--purge-interval", "30s", "--p2p-addr", ":9000"},
			want: map[string]string{
				"p2p-addr":       ":9000",
				"network-id":     "5",
				"purge-interval": "30s",
			},
		},
		{
			name: "environment",
			env:  map[string]string{"GOSSIPD_VERBOSITY": "debug"},
			want: map[string]string{
				"verbosity": "debug",
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			var outputBuf bytes.Buffer
			if err := newCommand(t,
				cmd.WithArgs(append([]string{"printconfig"}, tc.args...)...),
				cmd.WithOutput(&outputBuf),
			).Execute(); err != nil {
				t.Fatal(err)
			}

			got := make(map[string]interface{})
			if err := yaml.Unmarshal(outputBuf.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			for k, v := range tc.want {
				if g := fmt.Sprint(got[k]); g != v {
					t.Errorf("got %s %q, want %q", k, g, v)
				}
			}
		})
	}
}

func TestPrintConfigCmd_configFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "gossipd.yaml")
	if err := os.WriteFile(cfgFile, []byte("relay-fanout: 3\nbootnode:\n- /ip4/127.0.0.1/tcp/7070\n"), 0600); err != nil {
		t.Fatal(err)
	}

	var outputBuf bytes.Buffer
	if err := newCommand(t,
		cmd.WithArgs("printconfig", "--config", cfgFile),
		cmd.WithOutput(&outputBuf),
	).Execute(); err != nil {
		t.Fatal(err)
	}

	got := make(map[string]interface{})
	if err := yaml.Unmarshal(outputBuf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if g := fmt.Sprint(got["relay-fanout"]); g != "3" {
		t.Errorf("got relay-fanout %q, want %q", g, "3")
	}
	if g := fmt.Sprint(got["bootnode"]); g != "[/ip4/127.0.0.1/tcp/7070]" {
		t.Errorf("got bootnode %q, want %q", g, "[/ip4/127.0.0.1/tcp/7070]")
	}
}
