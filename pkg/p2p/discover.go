// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
)

// maxDiscoverDepth bounds the nesting of dnsaddr records.
const maxDiscoverDepth = 4

var (
	ErrNotResolvable   = errors.New("dnsaddr resolves to no address")
	ErrDiscoverTooDeep = errors.New("dnsaddr nested too deep")
)

var _ Resolver = (*madns.Resolver)(nil)

// Resolver resolves dnsaddr multiaddresses.
type Resolver interface {
	Resolve(ctx context.Context, addr ma.Multiaddr) ([]ma.Multiaddr, error)
}

// Discover calls f with addr. A dnsaddr is resolved with the default
// resolver and f is called with the resolved addresses in random order until
// it returns true.
func Discover(ctx context.Context, addr ma.Multiaddr, f func(ma.Multiaddr) (bool, error)) (bool, error) {
	return DiscoverWith(ctx, madns.DefaultResolver, addr, f)
}

// DiscoverWith is Discover with the given resolver.
func DiscoverWith(ctx context.Context, r Resolver, addr ma.Multiaddr, f func(ma.Multiaddr) (bool, error)) (bool, error) {
	return discover(ctx, r, addr, f, 0)
}

func discover(ctx context.Context, r Resolver, addr ma.Multiaddr, f func(ma.Multiaddr) (bool, error), depth int) (bool, error) {
	if comp, _ := ma.SplitFirst(addr); comp == nil || comp.Protocol().Code != ma.P_DNSADDR {
		return f(addr)
	}
	if depth >= maxDiscoverDepth {
		return false, fmt.Errorf("%s: %w", addr, ErrDiscoverTooDeep)
	}

	addrs, err := r.Resolve(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("dns resolve address %s: %w", addr, err)
	}
	if len(addrs) == 0 {
		return false, fmt.Errorf("%s: %w", addr, ErrNotResolvable)
	}

	rand.Shuffle(len(addrs), func(i, j int) {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})
	for _, a := range addrs {
		stopped, err := discover(ctx, r, a, f, depth+1)
		if err != nil {
			return false, fmt.Errorf("discover %s: %w", a, err)
		}
		if stopped {
			return true, nil
		}
	}

	return false, nil
}
