// Package block defines Tempo's opaque block header type: the parts of
// a block the Consensus Application and ceremony machinery need to
// read or populate, independent of the EVM execution payload itself
// (spec §3's Block data model, §4.3's propose/verify contracts).
package block

import (
	"encoding/binary"
	"time"
)

// Hash is a 32-byte block/commitment digest. Tempo does not specify a
// particular hash function at this layer; the execution layer computes
// it over the EVM payload and reports it back via Engine-API.
type Hash [32]byte

// IsZero reports whether h is the unset/genesis-parent sentinel.
func (h Hash) IsZero() bool { return h == Hash{} }

// Header is the consensus-visible portion of a block: everything the
// Application needs without reaching into the EVM payload. ExtraData
// carries the epoch ceremony wire encoding described in spec §6.
type Header struct {
	Height     uint64
	ParentHash Hash
	// Digest commits to the execution payload (the Engine-API
	// block hash once the payload is built/validated).
	Digest    Hash
	Timestamp time.Time
	ExtraData []byte
	// PayloadID correlates this header with the in-flight Engine-API
	// build job that produced its execution payload, per spec §4.4's
	// payload_id derivation.
	PayloadID PayloadID
}

// PayloadID is the 8-byte build-job identifier the Execution Driver
// derives deterministically from ParentHash, so resuming a build after
// a restart addresses the same in-progress payload (spec §4.4).
type PayloadID [8]byte

// DerivePayloadID deterministically derives a PayloadID from a parent
// hash: the first 8 bytes of the parent hash, reused as-is so that any
// two drivers building atop the same parent agree on the same id
// without exchanging messages.
func DerivePayloadID(parent Hash) PayloadID {
	var id PayloadID
	copy(id[:], parent[:len(id)])
	return id
}

// Ancestors streams headers from a height downward to genesis (or to
// wherever the stream is truncated), the shape the Application's
// verify/construct_public algorithms walk to recover a prior epoch's
// outcome (spec §4.1's "walk back from the boundary block").
type Ancestors interface {
	// HeaderAt returns the header at height, or ok=false if it is not
	// available (pruned, or beyond genesis).
	HeaderAt(height uint64) (Header, bool)
}

// Builder accumulates the pieces of a Header as the Consensus
// Application assembles a new block proposal; Finish fixes the
// timestamp and payload id.
type Builder struct {
	h Header
}

// NewBuilder starts a Header build atop parent at the given height.
func NewBuilder(height uint64, parent Hash) *Builder {
	return &Builder{h: Header{Height: height, ParentHash: parent}}
}

// WithExtraData attaches the epoch ceremony wire payload.
func (b *Builder) WithExtraData(extra []byte) *Builder {
	b.h.ExtraData = extra
	return b
}

// WithDigest attaches the execution payload's commitment digest.
func (b *Builder) WithDigest(d Hash) *Builder {
	b.h.Digest = d
	return b
}

// Finish stamps the timestamp and derives the payload id, returning the
// completed Header.
func (b *Builder) Finish(now time.Time) Header {
	b.h.Timestamp = now
	b.h.PayloadID = DerivePayloadID(b.h.ParentHash)
	return b.h
}

// BigEndianHeight is a small helper used by store keys that need a
// height encoded so lexicographic byte ordering matches numeric
// ordering (mirrors the teacher's bbolt key-encoding convention).
func BigEndianHeight(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}
