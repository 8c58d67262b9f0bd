// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mailbox

// State is the life cycle position of a mailbox record. A record moves from
// Stored to Delivered when its recipient acknowledges it, or to Expired when
// its lifetime elapses. Both end in Purged once the store dropped it.
type State int

const (
	StateUnknown State = iota
	StateStored
	StateDelivered
	StateExpired
	StatePurged
)

func (s State) String() string {
	switch s {
	case StateStored:
		return "stored"
	case StateDelivered:
		return "delivered"
	case StateExpired:
		return "expired"
	case StatePurged:
		return "purged"
	default:
		return "unknown"
	}
}

// next returns the state after s on the event e, and whether it is a legal
// transition.
func (s State) next(e State) (State, bool) {
	switch {
	case s == StateUnknown && e == StateStored:
		return StateStored, true
	case s == StateStored && (e == StateDelivered || e == StateExpired):
		return e, true
	case (s == StateDelivered || s == StateExpired) && e == StatePurged:
		return StatePurged, true
	}
	return s, false
}
