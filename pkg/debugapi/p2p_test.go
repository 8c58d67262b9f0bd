// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/tradenet/gossipd/pkg/debugapi"
	"github.com/tradenet/gossipd/pkg/jsonhttp"
	"github.com/tradenet/gossipd/pkg/jsonhttp/jsonhttptest"
	"github.com/tradenet/gossipd/pkg/overlay"
	"github.com/tradenet/gossipd/pkg/record/recordtest"

	ma "github.com/multiformats/go-multiaddr"
)

func TestAddresses(t *testing.T) {
	o := overlay.MustParseHexAddress("ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c")
	owner := recordtest.NewOwner(t)
	addresses := []ma.Multiaddr{
		mustMultiaddr(t, "/ip4/127.0.0.1/tcp/7070/p2p/16Uiu2HAmTBuJT9LvNmBiQiNoTsxE5mtNy6YG3paw79m94CRa9sRb"),
		mustMultiaddr(t, "/ip4/192.168.0.101/tcp/7070/p2p/16Uiu2HAmTBuJT9LvNmBiQiNoTsxE5mtNy6YG3paw79m94CRa9sRb"),
	}

	testServer := newTestServer(t, testServerOptions{
		Overlay:   o,
		PublicKey: owner.PublicKey,
		P2P:       &p2pService{addresses: addresses},
	})

	t.Run("ok", func(t *testing.T) {
		jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/addresses", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(debugapi.AddressesResponse{
				Overlay:   o,
				Underlay:  addresses,
				PublicKey: owner.PublicKey,
			}),
		)
	})

	t.Run("post method not allowed", func(t *testing.T) {
		jsonhttptest.Request(t, testServer.Client, http.MethodPost, "/addresses", http.StatusMethodNotAllowed,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Code:    http.StatusMethodNotAllowed,
				Message: http.StatusText(http.StatusMethodNotAllowed),
			}),
		)
	})
}

func TestAddresses_error(t *testing.T) {
	testErr := errors.New("listener closed")

	testServer := newTestServer(t, testServerOptions{
		P2P: &p2pService{addressesErr: testErr},
	})

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/addresses", http.StatusInternalServerError,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Code:    http.StatusInternalServerError,
			Message: testErr.Error(),
		}),
	)
}

func TestAddresses_unconfigured(t *testing.T) {
	o := overlay.MustParseHexAddress("ca1e9f3938cc1425c6061b96ad9eb93e134dfe8734ad490164ef20af9d1cf59c")
	owner := recordtest.NewOwner(t)

	testServer := newTestServer(t, testServerOptions{
		Overlay:      o,
		PublicKey:    owner.PublicKey,
		Unconfigured: true,
	})

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/addresses", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(debugapi.AddressesResponse{
			Overlay:   o,
			Underlay:  make([]ma.Multiaddr, 0),
			PublicKey: owner.PublicKey,
		}),
	)

	jsonhttptest.Request(t, testServer.Client, http.MethodGet, "/peers", http.StatusNotFound,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Code:    http.StatusNotFound,
			Message: http.StatusText(http.StatusNotFound),
		}),
	)
}
