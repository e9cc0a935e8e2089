package execution_test

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempolabs/tempo/block"
	"github.com/tempolabs/tempo/execution"
)

// stubEngine is a minimal, deterministic execution.Engine: the digest
// it assigns a build hashes the parent and extra_data so repeated
// builds over the same inputs agree, and its reported status is
// configurable per test.
type stubEngine struct {
	mu      sync.Mutex
	built   map[block.PayloadID]execution.BuiltPayload
	status  execution.PayloadStatus
	genesis block.Hash
}

func newStubEngine() *stubEngine {
	var g block.Hash
	g[0] = 0xAA
	return &stubEngine{built: make(map[block.PayloadID]execution.BuiltPayload), status: execution.StatusValid, genesis: g}
}

func (e *stubEngine) SendNewPayload(ctx context.Context, id block.PayloadID, attrs execution.PayloadAttributes) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := sha256.New()
	h.Write(attrs.ParentHash[:])
	h.Write(attrs.ExtraData)
	var digest block.Hash
	copy(digest[:], h.Sum(nil))
	e.built[id] = execution.BuiltPayload{ID: id, Digest: digest, Complete: true}
	return nil
}

func (e *stubEngine) Resolve(ctx context.Context, id block.PayloadID) (execution.BuiltPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.built[id], nil
}

func (e *stubEngine) NewPayload(ctx context.Context, p execution.BuiltPayload) (execution.PayloadStatusResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return execution.PayloadStatusResult{Status: e.status}, nil
}

func (e *stubEngine) ForkchoiceUpdated(ctx context.Context, state execution.ForkchoiceState, attrs *execution.PayloadAttributes) (execution.PayloadStatusResult, block.PayloadID, error) {
	return execution.PayloadStatusResult{Status: e.status}, block.PayloadID{}, nil
}

func (e *stubEngine) Genesis(ctx context.Context) (block.Hash, error) {
	return e.genesis, nil
}

func newDriver(t *testing.T, engine *stubEngine) *execution.Driver {
	t.Helper()
	d := execution.NewDriver(execution.Config{
		Engine:             engine,
		NewPayloadWaitTime: 2 * time.Millisecond,
		BuildPollInterval:  time.Millisecond,
		ValidatePace:       time.Millisecond,
	})
	t.Cleanup(d.Close)
	return d
}

func TestDriverProposeReturnsDeterministicDigest(t *testing.T) {
	engine := newStubEngine()
	d := newDriver(t, engine)

	var parent block.Hash
	parent[0] = 1
	attrs := execution.PayloadAttributes{Timestamp: 1, ParentHash: parent, ExtraData: []byte("abc")}

	digest1, err := d.Propose(context.Background(), parent, attrs)
	require.NoError(t, err)
	require.False(t, digest1.IsZero())

	digest2, err := d.Propose(context.Background(), parent, attrs)
	require.NoError(t, err)
	require.Equal(t, digest1, digest2)
}

func TestDriverProposeInvalidReturnsZeroDigest(t *testing.T) {
	engine := newStubEngine()
	engine.status = execution.StatusInvalid
	d := newDriver(t, engine)

	var parent block.Hash
	parent[0] = 2
	digest, err := d.Propose(context.Background(), parent, execution.PayloadAttributes{ParentHash: parent})
	require.NoError(t, err)
	require.True(t, digest.IsZero())
}

func TestDriverProposeSyncingEntersBackfill(t *testing.T) {
	engine := newStubEngine()
	engine.status = execution.StatusSyncing
	d := newDriver(t, engine)

	var parent block.Hash
	parent[0] = 3
	_, err := d.Propose(context.Background(), parent, execution.PayloadAttributes{ParentHash: parent})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return d.Backfilling(context.Background())
	}, 100*time.Millisecond, time.Millisecond)
}

func TestDriverVerifyAcceptsValidPayload(t *testing.T) {
	engine := newStubEngine()
	d := newDriver(t, engine)

	var parent block.Hash
	parent[0] = 4
	payload := execution.BuiltPayload{Digest: block.Hash{5}}

	accepted, err := d.Verify(context.Background(), parent, payload)
	require.NoError(t, err)
	require.True(t, accepted)
}

func TestDriverVerifyRejectsInvalidPayload(t *testing.T) {
	engine := newStubEngine()
	engine.status = execution.StatusInvalid
	d := newDriver(t, engine)

	var parent block.Hash
	parent[0] = 6
	accepted, err := d.Verify(context.Background(), parent, execution.BuiltPayload{Digest: block.Hash{7}})
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestDriverGenesisDelegatesToEngine(t *testing.T) {
	engine := newStubEngine()
	d := newDriver(t, engine)

	g, err := d.Genesis(context.Background())
	require.NoError(t, err)
	require.Equal(t, engine.genesis, g)
}

func TestDriverFinalizedRecordsHash(t *testing.T) {
	engine := newStubEngine()
	d := newDriver(t, engine)

	var h block.Hash
	h[0] = 8
	require.NoError(t, d.Finalized(context.Background(), h))
}

func TestSignAndVerifyJWTRoundTrip(t *testing.T) {
	var secret [32]byte
	secret[0] = 0x42

	now := time.Unix(1_700_000_000, 0)
	token, err := execution.SignJWT(secret, now)
	require.NoError(t, err)

	require.NoError(t, execution.VerifyJWT(secret, token, now.Add(5*time.Second)))
}

func TestVerifyJWTRejectsWrongSecret(t *testing.T) {
	var secret [32]byte
	secret[0] = 1
	var other [32]byte
	other[0] = 2

	now := time.Unix(1_700_000_000, 0)
	token, err := execution.SignJWT(secret, now)
	require.NoError(t, err)

	require.Error(t, execution.VerifyJWT(other, token, now))
}

func TestVerifyJWTRejectsClockSkew(t *testing.T) {
	var secret [32]byte
	secret[0] = 9

	now := time.Unix(1_700_000_000, 0)
	token, err := execution.SignJWT(secret, now)
	require.NoError(t, err)

	require.Error(t, execution.VerifyJWT(secret, token, now.Add(5*time.Minute)))
}
