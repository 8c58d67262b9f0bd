// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package record provides the owner-signed, versioned and time limited unit
// of replicated data, in its two variants: Plain records addressed by owner
// and Mailbox records addressed to a recipient.
package record

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tradenet/gossipd/pkg/capability"
	"github.com/tradenet/gossipd/pkg/crypto"
)

// Kind is the type tag of a record payload.
type Kind uint32

const (
	KindOffer Kind = iota + 1
	KindVote
	KindAlert
	KindMailbox
)

var kindNames = map[Kind]string{
	KindOffer:   "offer",
	KindVote:    "vote",
	KindAlert:   "alert",
	KindMailbox: "mailbox",
}

// Kinds lists all known kinds.
var Kinds = []Kind{KindOffer, KindVote, KindAlert, KindMailbox}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses a kind by its name.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown record kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Capability is the capability a node must advertise to hold records of
// this kind.
func (k Kind) Capability() capability.Capability {
	switch k {
	case KindOffer:
		return capability.Offers
	case KindVote:
		return capability.Votes
	case KindAlert:
		return capability.Alerts
	default:
		return capability.Mailbox
	}
}

// RequiredCapabilities returns the capabilities a node must advertise to
// hold r: those the record asks for and the one of its kind.
func RequiredCapabilities(r Record) capability.Set {
	e := r.Base()
	return capability.NewSet(append(e.Capabilities.List(), e.Kind.Capability())...)
}

// Limits bound the size and lifetime of records of one kind.
type Limits struct {
	MaxKeySize     int
	MaxPayloadSize int
	MaxTTL         time.Duration
}

const (
	MaxKeySize = 64
	// MaxTTL is the longest lifetime any record may ask for.
	MaxTTL = 30 * 24 * time.Hour
)

var limits = map[Kind]Limits{
	KindOffer:   {MaxKeySize: MaxKeySize, MaxPayloadSize: 20 * 1024, MaxTTL: 24 * time.Hour},
	KindVote:    {MaxKeySize: MaxKeySize, MaxPayloadSize: 4 * 1024, MaxTTL: MaxTTL},
	KindAlert:   {MaxKeySize: MaxKeySize, MaxPayloadSize: 4 * 1024, MaxTTL: MaxTTL},
	KindMailbox: {MaxKeySize: MaxKeySize, MaxPayloadSize: 100 * 1024, MaxTTL: 15 * 24 * time.Hour},
}

// LimitsOf returns the bounds for records of kind k.
func LimitsOf(k Kind) (Limits, bool) {
	l, ok := limits[k]
	return l, ok
}

const IDSize = 32

// ID is the identity of a record. At most one copy of a record with the
// same ID is held by a store.
type ID [IDSize]byte

var ErrInvalidID = errors.New("invalid record id")

// NewID copies b into an ID.
func NewID(b []byte) (id ID, err error) {
	if len(b) != IDSize {
		return id, ErrInvalidID
	}
	copy(id[:], b)
	return id, nil
}

// ParseHexID parses a hex encoded ID.
func ParseHexID(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, ErrInvalidID
	}
	return NewID(b)
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns the first bytes of the id, for logging.
func (id ID) ShortString() string {
	return hex.EncodeToString(id[:6])
}

func (id ID) Bytes() []byte {
	b := make([]byte, IDSize)
	copy(b, id[:])
	return b
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseHexID(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Entry holds the fields shared by all record variants.
type Entry struct {
	Kind Kind
	// Key discriminates records of the same owner and kind, an offer id for
	// example.
	Key          []byte
	Payload      []byte
	Owner        crypto.PublicKey
	Sequence     uint32
	TTL          time.Duration
	Capabilities capability.Set
	Signature    []byte
	// ReceivedAt is the local arrival time. It is neither signed nor sent.
	ReceivedAt time.Time
}

// ExpiresAt returns the time after which the record is inert.
func (e *Entry) ExpiresAt() time.Time {
	return e.ReceivedAt.Add(e.TTL)
}

// Expired reports whether the record lifetime has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt().Before(now)
}

// Record is either a *Plain or a *Mailbox.
type Record interface {
	ID() ID
	Base() *Entry
	// Remover is the key that must sign a removal of this record.
	Remover() crypto.PublicKey
	// Clone returns a deep copy.
	Clone() Record
	fmt.Stringer
	sealed()
}

var (
	_ Record = (*Plain)(nil)
	_ Record = (*Mailbox)(nil)
)

// Plain is a record addressed by its owner, an offer, a vote or an alert.
type Plain struct {
	Entry
}

func (p *Plain) ID() ID {
	return hashID(p.Owner[:], kindBytes(p.Kind), p.Key)
}

func (p *Plain) Base() *Entry { return &p.Entry }

func (p *Plain) Remover() crypto.PublicKey { return p.Owner }

func (p *Plain) Clone() Record {
	return &Plain{Entry: p.Entry.clone()}
}

func (p *Plain) String() string {
	return fmt.Sprintf("%s %s owner %s seq %d", p.Kind, p.ID().ShortString(), p.Owner, p.Sequence)
}

func (*Plain) sealed() {}

// Mailbox is a record stored on behalf of a recipient who may be offline.
// The owner is the sender who signs the add. The payload is an envelope
// sealed to the recipient, who signs the removal once it is read.
type Mailbox struct {
	Entry
	Recipient crypto.PublicKey
}

func (m *Mailbox) ID() ID {
	return hashID(m.Owner[:], m.Recipient[:], kindBytes(m.Kind), m.Key)
}

func (m *Mailbox) Base() *Entry { return &m.Entry }

func (m *Mailbox) Remover() crypto.PublicKey { return m.Recipient }

func (m *Mailbox) Clone() Record {
	return &Mailbox{Entry: m.Entry.clone(), Recipient: m.Recipient}
}

func (m *Mailbox) String() string {
	return fmt.Sprintf("%s %s sender %s recipient %s seq %d", m.Kind, m.ID().ShortString(), m.Owner, m.Recipient, m.Sequence)
}

func (*Mailbox) sealed() {}

func (e Entry) clone() Entry {
	e.Key = append([]byte(nil), e.Key...)
	e.Payload = append([]byte(nil), e.Payload...)
	e.Signature = append([]byte(nil), e.Signature...)
	return e
}

func kindBytes(k Kind) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(k))
	return b
}

func hashID(parts ...[]byte) (id ID) {
	var data []byte
	for _, p := range parts {
		data = append(data, p...)
	}
	h, _ := crypto.LegacyKeccak256(data)
	copy(id[:], h)
	return id
}
