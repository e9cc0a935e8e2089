// Package execution drives the EVM execution layer through an
// Engine-API-shaped surface (spec §4.4, §6 "Engine surface consumed").
// The Driver is the only component that talks to it; the Consensus
// Application goes through the Driver, never the engine client
// directly (spec §4.3 "The Application never touches storage
// directly").
package execution

import (
	"context"

	"github.com/tempolabs/tempo/block"
)

// PayloadStatus mirrors go-ethereum's beacon/engine payload status
// enum: the four outcomes newPayload/forkchoiceUpdated can report
// (spec §6 "new_payload(block) -> {Valid, Accepted, Invalid, Syncing}").
type PayloadStatus int

const (
	StatusValid PayloadStatus = iota
	StatusAccepted
	StatusInvalid
	StatusSyncing
)

func (s PayloadStatus) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusInvalid:
		return "INVALID"
	case StatusSyncing:
		return "SYNCING"
	default:
		return "UNKNOWN"
	}
}

// PayloadStatusResult is the engine's response to newPayload/FCU,
// carrying an optional rejection reason for StatusInvalid.
type PayloadStatusResult struct {
	Status          PayloadStatus
	LatestValidHash block.Hash
	ValidationError string
}

// ForkchoiceState is the triple the Driver reports to the execution
// layer on every forkchoiceUpdated call: the canonical (unsafe) head,
// the safe head, and the finalized head (spec §4.4 "Canonical chain
// discipline").
type ForkchoiceState struct {
	HeadHash      block.Hash
	SafeHash      block.Hash
	FinalizedHash block.Hash
}

// PayloadAttributes parameterizes a payload-build request: the
// extra_data this proposal must carry (spec §4.3's computed
// PublicOutcome/IntermediateOutcome bytes) plus timing and ordering
// inputs the execution layer needs to assemble the EVM block.
type PayloadAttributes struct {
	Timestamp  uint64
	ParentHash block.Hash
	ExtraData  []byte
}

// BuiltPayload is what payload_builder.resolve returns: a candidate
// EVM block the Driver hands to newPayload.
type BuiltPayload struct {
	ID        block.PayloadID
	Digest    block.Hash
	Header    block.Header
	Complete  bool // false if resolve() returned before the build finished (spec §5 interrupt/resume)
}

// Engine is the narrow Engine-API surface the Driver depends on (spec
// §6 "Engine surface consumed"). Swapping in a real JSON-RPC client
// behind this interface is a Non-goal here; production deployments
// wire an implementation that speaks to go-ethereum's engine namespace
// over HTTP with the JWT bearer auth in jwt.go.
type Engine interface {
	// NewPayload submits a built payload for validation.
	NewPayload(ctx context.Context, p BuiltPayload) (PayloadStatusResult, error)
	// ForkchoiceUpdated reports the Driver's view of head/safe/finalized,
	// optionally starting a new payload build when attrs is non-nil.
	ForkchoiceUpdated(ctx context.Context, state ForkchoiceState, attrs *PayloadAttributes) (PayloadStatusResult, block.PayloadID, error)
	// SendNewPayload starts a payload build atop attrs, addressed by id,
	// the deterministic payload id the Driver derives from the parent
	// hash (spec §4.3 "Payload-id derivation").
	SendNewPayload(ctx context.Context, id block.PayloadID, attrs PayloadAttributes) error
	// Resolve returns the best payload built so far for id, completing
	// even if the build was interrupted mid-flight (spec §9 "Serial
	// Execution Driver... offloading newPayload/build/resolve").
	Resolve(ctx context.Context, id block.PayloadID) (BuiltPayload, error)
	// Genesis returns the execution layer's genesis digest.
	Genesis(ctx context.Context) (block.Hash, error)
}
