// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
)

// Rejection reasons.
var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrStaleSequence      = errors.New("stale sequence number")
	ErrOwnerMismatch      = errors.New("owner mismatch")
	ErrCapabilityMismatch = errors.New("capability mismatch")
	ErrMalformed          = errors.New("malformed record")
	ErrExpired            = errors.New("record expired")
)

// RejectionError is returned when a record operation is not accepted. Reason
// is one of the rejection reason errors of this package.
type RejectionError struct {
	Reason error
	Detail string
}

func reject(reason error, format string, args ...interface{}) *RejectionError {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return "rejected: " + e.Reason.Error()
	}
	return "rejected: " + e.Reason.Error() + ": " + e.Detail
}

func (e *RejectionError) Unwrap() error { return e.Reason }

// IsIgnorable reports whether err only tells that the record is not meant
// for this node.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrCapabilityMismatch)
}

// Known is what a store knows about one record identity.
type Known struct {
	// Stored is the current unexpired copy, nil if there is none.
	Stored Record
	// Sequence is the highest sequence number seen for the identity,
	// including removals and expired copies.
	Sequence uint32
	// Seen is set if Sequence holds a value.
	Seen bool
}

// ValidateAdd decides whether r may be added given what is known about its
// identity and the capabilities of the local node.
func ValidateAdd(r Record, known Known, local capability.Set) error {
	if !VerifyAdd(r) {
		return reject(ErrInvalidSignature, "add %s", r.ID().ShortString())
	}
	if err := checkSequence(r.Base().Sequence, known); err != nil {
		return err
	}
	if err := checkCapabilities(r, local); err != nil {
		return err
	}
	return CheckStructure(r)
}

// ValidateRemove decides whether the removal r is authorized and new.
func ValidateRemove(r Record, known Known, local capability.Set) error {
	if !VerifyRemove(r) {
		return reject(ErrInvalidSignature, "remove %s", r.ID().ShortString())
	}
	if known.Stored != nil && known.Stored.Remover() != r.Remover() {
		return reject(ErrOwnerMismatch, "remove %s", r.ID().ShortString())
	}
	if err := checkSequence(r.Base().Sequence, known); err != nil {
		return err
	}
	if err := checkCapabilities(r, local); err != nil {
		return err
	}
	return CheckStructure(r)
}

// ValidateRefresh decides whether rf may extend the lifetime of the stored
// record.
func ValidateRefresh(rf *Refresh, known Known, local capability.Set) error {
	if known.Stored == nil {
		return reject(ErrExpired, "refresh %s: no live copy", rf.ID.ShortString())
	}
	if _, ok := known.Stored.(*Plain); !ok {
		return reject(ErrMalformed, "refresh %s: only plain records can be refreshed", rf.ID.ShortString())
	}
	if known.Stored.ID() != rf.ID {
		return reject(ErrMalformed, "refresh %s: identity mismatch", rf.ID.ShortString())
	}
	if !VerifyRefresh(rf, known.Stored) {
		return reject(ErrInvalidSignature, "refresh %s", rf.ID.ShortString())
	}
	if err := checkSequence(rf.Sequence, known); err != nil {
		return err
	}
	return checkCapabilities(known.Stored, local)
}

func checkSequence(seq uint32, known Known) error {
	current := known.Sequence
	if known.Stored != nil && known.Stored.Base().Sequence > current {
		current = known.Stored.Base().Sequence
	}
	if (known.Seen || known.Stored != nil) && seq <= current {
		return reject(ErrStaleSequence, "sequence %d, known %d", seq, current)
	}
	return nil
}

func checkCapabilities(r Record, local capability.Set) error {
	e := r.Base()
	required := e.Capabilities
	if !local.Contains(e.Kind.Capability()) {
		return reject(ErrCapabilityMismatch, "kind %s not supported", e.Kind)
	}
	if missing := local.Missing(required); len(missing) > 0 {
		return reject(ErrCapabilityMismatch, "missing %v", missing)
	}
	return nil
}

// CheckStructure verifies size bounds and the type tag of r.
func CheckStructure(r Record) error {
	e := r.Base()
	l, ok := LimitsOf(e.Kind)
	if !ok {
		return reject(ErrMalformed, "unknown kind %d", uint32(e.Kind))
	}
	switch v := r.(type) {
	case *Plain:
		if e.Kind == KindMailbox {
			return reject(ErrMalformed, "plain record of kind %s", e.Kind)
		}
	case *Mailbox:
		if e.Kind != KindMailbox {
			return reject(ErrMalformed, "mailbox record of kind %s", e.Kind)
		}
		if v.Recipient.IsZero() {
			return reject(ErrMalformed, "mailbox without recipient")
		}
		if v.Recipient == v.Owner {
			return reject(ErrMalformed, "mailbox addressed to its sender")
		}
	default:
		return reject(ErrMalformed, "unknown record variant %T", r)
	}
	if len(e.Key) == 0 || len(e.Key) > l.MaxKeySize {
		return reject(ErrMalformed, "key size %d", len(e.Key))
	}
	if len(e.Payload) > l.MaxPayloadSize {
		return reject(ErrMalformed, "payload size %d exceeds %d", len(e.Payload), l.MaxPayloadSize)
	}
	if e.TTL <= 0 || e.TTL > l.MaxTTL {
		return reject(ErrMalformed, "ttl %s out of range", e.TTL)
	}
	if len(e.Signature) != crypto.SignatureSize {
		return reject(ErrMalformed, "signature size %d", len(e.Signature))
	}
	return nil
}

// Live returns the record if it is not expired at now, nil otherwise.
func Live(r Record, now time.Time) Record {
	if r == nil || r.Base().Expired(now) {
		return nil
	}
	return r
}
