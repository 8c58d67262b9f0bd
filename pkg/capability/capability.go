// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capability defines feature flags that nodes advertise to each
// other. Records and messages may require a set of capabilities, and a node
// that lacks any of them drops the record silently, which keeps networks of
// mixed versions working.
package capability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Capability is a single feature flag. Values unknown to this version are
// kept as numbers so that they can be forwarded and compared.
type Capability uint32

const (
	SeedNode Capability = iota
	Mailbox
	Offers
	Votes
	Alerts
	Refresh
	Inventory
)

var names = map[Capability]string{
	SeedNode:  "seednode",
	Mailbox:   "mailbox",
	Offers:    "offers",
	Votes:     "votes",
	Alerts:    "alerts",
	Refresh:   "refresh",
	Inventory: "inventory",
}

func (c Capability) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "capability(" + strconv.FormatUint(uint64(c), 10) + ")"
}

// Parse resolves a capability by name or by its decimal value.
func Parse(s string) (Capability, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, n := range names {
		if n == s {
			return c, nil
		}
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown capability %q", s)
	}
	return Capability(v), nil
}

// Set is an immutable, sorted set of capabilities. The zero value is the
// empty set.
type Set struct {
	list []Capability
}

// NewSet returns a set of the given capabilities with duplicates removed.
func NewSet(cs ...Capability) Set {
	if len(cs) == 0 {
		return Set{}
	}
	list := make([]Capability, len(cs))
	copy(list, cs)
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })

	n := 1
	for i := 1; i < len(list); i++ {
		if list[i] != list[n-1] {
			list[n] = list[i]
			n++
		}
	}
	return Set{list: list[:n]}
}

// Default is the set advertised by a node that was not configured otherwise.
func Default() Set {
	return NewSet(Mailbox, Offers, Votes, Alerts, Refresh, Inventory)
}

// ParseSet parses capability names, as given in the configuration.
func ParseSet(ss []string) (Set, error) {
	cs := make([]Capability, 0, len(ss))
	for _, s := range ss {
		if strings.TrimSpace(s) == "" {
			continue
		}
		c, err := Parse(s)
		if err != nil {
			return Set{}, err
		}
		cs = append(cs, c)
	}
	return NewSet(cs...), nil
}

// FromUint32s builds a set from its wire representation.
func FromUint32s(vs []uint32) Set {
	cs := make([]Capability, len(vs))
	for i, v := range vs {
		cs[i] = Capability(v)
	}
	return NewSet(cs...)
}

// Uint32s returns the wire representation of the set.
func (s Set) Uint32s() []uint32 {
	if len(s.list) == 0 {
		return nil
	}
	vs := make([]uint32, len(s.list))
	for i, c := range s.list {
		vs[i] = uint32(c)
	}
	return vs
}

func (s Set) Len() int {
	return len(s.list)
}

func (s Set) IsEmpty() bool {
	return len(s.list) == 0
}

// List returns a copy of the capabilities in ascending order.
func (s Set) List() []Capability {
	l := make([]Capability, len(s.list))
	copy(l, s.list)
	return l
}

func (s Set) Contains(c Capability) bool {
	i := sort.Search(len(s.list), func(i int) bool { return s.list[i] >= c })
	return i < len(s.list) && s.list[i] == c
}

// Supports reports whether s contains every capability in required.
func (s Set) Supports(required Set) bool {
	return len(s.Missing(required)) == 0
}

// Missing returns capabilities in required that are not in s.
func (s Set) Missing(required Set) (missing []Capability) {
	for _, c := range required.list {
		if !s.Contains(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

func (s Set) Equal(o Set) bool {
	if len(s.list) != len(o.list) {
		return false
	}
	for i := range s.list {
		if s.list[i] != o.list[i] {
			return false
		}
	}
	return true
}

func (s Set) String() string {
	ns := make([]string, len(s.list))
	for i, c := range s.list {
		ns[i] = c.String()
	}
	return "[" + strings.Join(ns, " ") + "]"
}

func (s Set) MarshalText() ([]byte, error) {
	ns := make([]string, len(s.list))
	for i, c := range s.list {
		ns[i] = c.String()
	}
	return []byte(strings.Join(ns, ",")), nil
}

func (s *Set) UnmarshalText(b []byte) error {
	v, err := ParseSet(strings.Split(string(b), ","))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
