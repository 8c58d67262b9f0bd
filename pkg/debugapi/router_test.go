// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/tradenet/gossipd/pkg/jsonhttp/jsonhttptest"
)

func TestCORSHeaders(t *testing.T) {
	for _, tc := range []struct {
		name           string
		origin         string
		allowedOrigins []string
		wantCORS       bool
	}{
		{
			name: "none",
		},
		{
			name:           "no origin",
			allowedOrigins: []string{"https://explorer.tradenet.io"},
		},
		{
			name:           "single explicit",
			origin:         "https://explorer.tradenet.io",
			allowedOrigins: []string{"https://explorer.tradenet.io"},
			wantCORS:       true,
		},
		{
			name:           "single explicit blocked",
			origin:         "http://a-hacker.me",
			allowedOrigins: []string{"https://explorer.tradenet.io"},
		},
		{
			name:           "multiple explicit",
			origin:         "https://staging.explorer.tradenet.io",
			allowedOrigins: []string{"https://explorer.tradenet.io", "https://staging.explorer.tradenet.io"},
			wantCORS:       true,
		},
		{
			name:           "wildcard",
			origin:         "http://localhost:1234",
			allowedOrigins: []string{"*"},
			wantCORS:       true,
		},
		{
			name:   "with origin only",
			origin: "https://explorer.tradenet.io",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testServer := newTestServer(t, testServerOptions{
				CORSAllowedOrigins: tc.allowedOrigins,
			})

			var opts []jsonhttptest.Option
			if tc.origin != "" {
				opts = append(opts, jsonhttptest.WithRequestHeader("Origin", tc.origin))
			}
			header := jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/health", http.StatusOK, opts...)

			got := header.Get("Access-Control-Allow-Origin")
			if tc.wantCORS {
				if got != tc.origin {
					t.Errorf("got Access-Control-Allow-Origin %q, want %q", got, tc.origin)
				}
			} else if got != "" {
				t.Errorf("got Access-Control-Allow-Origin %q, want none", got)
			}
		})
	}
}

func TestNoCacheHeaders(t *testing.T) {
	testServer := newTestServer(t, testServerOptions{})

	header := jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/health", http.StatusOK)
	if got := header.Get("Cache-Control"); got == "" {
		t.Error("no cache control header")
	}
}

func TestMetrics(t *testing.T) {
	testServer := newTestServer(t, testServerOptions{Unconfigured: true})

	resp, err := testServer.Client.Get("/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %v, want %v", resp.StatusCode, http.StatusOK)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "gossipd_info") {
		t.Errorf("info metric not exposed")
	}
}

func TestNotFound(t *testing.T) {
	testServer := newTestServer(t, testServerOptions{})

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/not-found", http.StatusNotFound)
}
