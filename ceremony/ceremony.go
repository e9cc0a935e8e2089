package ceremony

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/drand/kyber/share"

	tmerrors "github.com/tempolabs/tempo/common/errors"
	"github.com/tempolabs/tempo/common/log"
	"github.com/tempolabs/tempo/crypto"
	"github.com/tempolabs/tempo/validator"
)

// State is one of the ceremony's lifecycle stages (spec §4.1 "State
// machine": Gathering -> Dealt -> Acked -> Finalizing -> (Success |
// Failure)). Transitions are idempotent and persisted after each
// advance; Success/Failure are terminal.
type State uint8

const (
	StateGathering State = iota
	StateDealt
	StateAcked
	StateFinalizing
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateGathering:
		return "gathering"
	case StateDealt:
		return "dealt"
	case StateAcked:
		return "acked"
	case StateFinalizing:
		return "finalizing"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Config is the fixed parameterization of one ceremony instance,
// mirroring drand's dkg.Config (spec §4.1 "implementation detail").
type Config struct {
	Scheme         *crypto.Scheme
	Epoch          uint64
	Dealers        []validator.Participant
	Players        []validator.Participant
	Self           *crypto.KeyPair
	SelfEncryption *crypto.EncryptionKeyPair
	// PreviousShare/PreviousPublic are non-nil iff a previous epoch's
	// polynomial exists — their presence selects recover_public over
	// construct_public (spec §4.1 "Reshare vs initial").
	PreviousShare  *share.PriShare
	PreviousPublic *crypto.Polynomial
	Threshold      int
}

func (c Config) selfKey() [32]byte {
	var k [32]byte
	copy(k[:], c.Self.Public)
	return k
}

// dealerContribution tracks one dealer's progress within this
// ceremony instance, from this node's point of view.
type dealerContribution struct {
	commitment *crypto.Polynomial
	acks       map[[32]byte]Ack // keyed by player pubkey
	reveals    map[int]Reveal
	// fromBlock is true once this contribution arrived via
	// process_dealings_in_block rather than local dealing — relevant
	// only for logging/diagnostics.
	fromBlock bool
}

// Ceremony executes one resharing DKG instance. It is a value type
// driven entirely by its Advance-style methods (init,
// distribute_shares, process_messages, ...); it is never a goroutine
// (spec §9 "Ceremony as one-shot persistent state machine") so the DKG
// Manager can reload it from a Store after a crash and resume by
// calling the next operation the block height calls for.
type Ceremony struct {
	cfg   Config
	store PersistentStore
	mux   Mux
	log   log.Logger

	state State
	role  Role

	// ownDealing is set iff this node is a Dealer; it holds the
	// private polynomial used to compute per-player shares.
	ownDealing *crypto.DealerPolynomial

	// receivedShares holds shares this node (as Player) has received
	// and verified from each dealer, keyed by dealer index.
	receivedShares map[int]*share.PriShare

	// contributions tracks every dealer this node knows about: its own
	// dealing (if Dealer) plus any ingested via process_dealings_in_block.
	contributions map[int]*dealerContribution

	// ownOutcome caches the locally produced IntermediateOutcome once
	// constructed (spec §4.1 "deal_outcome").
	ownOutcome *IntermediateOutcome

	final *FinalOutcome
}

// FinalOutcome is the result of finalize(): either the newly
// constructed public polynomial and (if Player) private share, or —
// on ceremony failure — the previous epoch's unchanged key material
// (spec §4.1 "finalize").
type FinalOutcome struct {
	Success      bool
	Participants [][]byte
	Public       *crypto.Polynomial
	// Share is this node's new private share, non-nil only if
	// Success and this node is a Player.
	Share *share.PriShare
	Role  Role
}

// PersistentStore is the narrow persistence contract a Ceremony uses to
// survive restarts (spec §4.1 "Persistence happens through
// ceremony.Store"). See store.go for the bbolt-backed implementation.
type PersistentStore interface {
	Load(epoch uint64) (*Snapshot, bool, error)
	Save(epoch uint64, snap *Snapshot) error
	Prune(epoch uint64) error
}

// New constructs a fresh Ceremony for cfg, or returns an error if the
// store is unavailable for a resume check (spec §4.1 "init... Errors:
// StoreUnavailable"). If a snapshot for cfg.Epoch already exists in
// store, the ceremony resumes from it; otherwise it starts fresh at
// StateGathering.
func New(cfg Config, store PersistentStore, mux Mux, logger log.Logger) (*Ceremony, error) {
	c := &Ceremony{
		cfg:            cfg,
		store:          store,
		mux:            mux,
		log:            logger,
		state:          StateGathering,
		receivedShares: make(map[int]*share.PriShare),
		contributions:  make(map[int]*dealerContribution),
	}

	snap, ok, err := store.Load(cfg.Epoch)
	if err != nil {
		return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: store unavailable")
	}
	if ok {
		if err := c.restore(snap); err != nil {
			return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: restore snapshot")
		}
		return c, nil
	}

	c.role = ResolveRole(selfPub(cfg), dealerKeys(cfg.Dealers), playerKeys(cfg.Players), cfg.PreviousShare != nil)
	if c.role.Has(RoleDealer) {
		dealing, err := c.newOwnDealing()
		if err != nil {
			return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: construct dealer polynomial")
		}
		c.ownDealing = dealing
		c.contributions[IndexOf(dealerKeys(cfg.Dealers), selfPub(cfg))] = &dealerContribution{
			commitment: dealing.Public,
			acks:       make(map[[32]byte]Ack),
			reveals:    make(map[int]Reveal),
		}
	}
	if err := c.persist(); err != nil {
		return nil, err
	}
	return c, nil
}

func selfPub(cfg Config) []byte { return cfg.Self.Public }

func dealerKeys(ps []validator.Participant) [][]byte {
	out := make([][]byte, len(ps))
	for i, p := range ps {
		out[i] = p.PublicKey
	}
	return out
}

func playerKeys(ps []validator.Participant) [][]byte { return dealerKeys(ps) }

func (c *Ceremony) newOwnDealing() (*crypto.DealerPolynomial, error) {
	if c.cfg.PreviousShare != nil {
		return crypto.NewResharingDealerPolynomial(c.cfg.Scheme, c.cfg.PreviousShare, c.cfg.Threshold)
	}
	return crypto.NewFreshDealerPolynomial(c.cfg.Scheme, c.cfg.Threshold)
}

// State returns the ceremony's current lifecycle stage.
func (c *Ceremony) State() State { return c.state }

// Role returns this node's resolved role for the ceremony.
func (c *Ceremony) Role() Role { return c.role }

// DistributeShares sends this dealer's per-player shares over the
// SHARES channel. Idempotent and a no-op for non-dealers (spec §4.1
// "distribute_shares").
func (c *Ceremony) DistributeShares(ctx context.Context) error {
	if !c.role.Has(RoleDealer) || c.ownDealing == nil {
		return nil
	}
	selfIdx := IndexOf(dealerKeys(c.cfg.Dealers), selfPub(c.cfg))
	for _, player := range c.cfg.Players {
		pShare := c.ownDealing.ShareFor(player.Index)
		raw, err := pShare.V.MarshalBinary()
		if err != nil {
			return fmt.Errorf("ceremony: marshal share for player %d: %w", player.Index, err)
		}
		sealed, err := crypto.Seal(&c.cfg.SelfEncryption.Private, &player.EncryptionKey, raw)
		if err != nil {
			return fmt.Errorf("ceremony: seal share for player %d: %w", player.Index, err)
		}
		deal := Deal{DealerIndex: selfIdx, PlayerIndex: player.Index, EncryptedShare: sealed}
		var to [32]byte
		copy(to[:], player.PublicKey)
		if err := c.mux.SendShare(ctx, to, deal); err != nil {
			return fmt.Errorf("ceremony: send share to player %d: %w", player.Index, err)
		}
	}
	if c.state == StateGathering {
		c.state = StateDealt
	}
	return c.persist()
}

// ProcessMessages drains pending SHARES/ACKS without blocking (spec
// §4.1 "process_messages... Cancellable at any suspension").
func (c *Ceremony) ProcessMessages(ctx context.Context) error {
	for {
		select {
		case d, ok := <-c.mux.Shares():
			if !ok {
				return c.persist()
			}
			if err := c.handleShare(d); err != nil && c.log != nil {
				c.log.Warnw("ceremony: rejected share", "err", err)
			}
		case a, ok := <-c.mux.Acks():
			if !ok {
				return c.persist()
			}
			if err := c.handleAck(a); err != nil && c.log != nil {
				c.log.Warnw("ceremony: rejected ack", "err", err)
			}
		case <-ctx.Done():
			return c.persist()
		default:
			return c.persist()
		}
	}
}

func (c *Ceremony) handleShare(d Deal) error {
	if !c.role.Has(RolePlayer) {
		return nil
	}
	dealer := findByIndex(c.cfg.Dealers, d.DealerIndex)
	if dealer == nil {
		return fmt.Errorf("share from unknown dealer index %d", d.DealerIndex)
	}
	raw, err := crypto.Open(&c.cfg.SelfEncryption.Private, &dealer.EncryptionKey, d.EncryptedShare)
	if err != nil {
		return fmt.Errorf("open share from dealer %d: %w", d.DealerIndex, err)
	}
	scalar := c.cfg.Scheme.Pairing.Scalar()
	if err := scalar.UnmarshalBinary(raw); err != nil {
		return fmt.Errorf("unmarshal share from dealer %d: %w", d.DealerIndex, err)
	}
	selfIdx := IndexOf(playerKeys(c.cfg.Players), selfPub(c.cfg))
	pShare := &share.PriShare{I: selfIdx, V: scalar}

	contrib, ok := c.contributions[d.DealerIndex]
	if !ok || contrib.commitment == nil {
		return fmt.Errorf("no commitment on file yet for dealer %d", d.DealerIndex)
	}
	if !crypto.VerifyShare(contrib.commitment, pShare) {
		return fmt.Errorf("share from dealer %d failed verification", d.DealerIndex)
	}
	c.receivedShares[d.DealerIndex] = pShare

	hash := commitmentHash(contrib.commitment)
	msg := ackMessage(c.cfg.Epoch, dealer.PublicKey, c.cfg.Self.Public, hash)
	sig := c.cfg.Self.Sign(msg)
	var ackMsg AckMessage
	ackMsg.Epoch = c.cfg.Epoch
	copy(ackMsg.DealerPubKey[:], dealer.PublicKey)
	copy(ackMsg.PlayerPubKey[:], c.cfg.Self.Public)
	ackMsg.CommitmentHash = hash
	copy(ackMsg.Signature[:], sig)

	var to [32]byte
	copy(to[:], dealer.PublicKey)
	return c.mux.SendAck(context.Background(), to, ackMsg)
}

func (c *Ceremony) handleAck(a AckMessage) error {
	if !c.role.Has(RoleDealer) {
		return nil
	}
	if a.DealerPubKey != c.cfg.selfKey() {
		return nil // ack addressed to a different dealer sharing this mux
	}
	selfDealerIdx := IndexOf(dealerKeys(c.cfg.Dealers), selfPub(c.cfg))
	contrib, ok := c.contributions[selfDealerIdx]
	if !ok {
		return fmt.Errorf("no local dealing to ack against")
	}
	wantHash := commitmentHash(contrib.commitment)
	if a.CommitmentHash != wantHash {
		return fmt.Errorf("ack commitment hash mismatch")
	}
	msg := ackMessage(a.Epoch, c.cfg.Self.Public, a.PlayerPubKey[:], a.CommitmentHash)
	if !crypto.Verify(a.PlayerPubKey[:], msg, a.Signature[:]) {
		return fmt.Errorf("ack signature invalid")
	}
	contrib.acks[a.PlayerPubKey] = Ack{PlayerPubKey: a.PlayerPubKey, Signature: a.Signature}
	if c.state == StateDealt && len(contrib.acks) >= c.cfg.Threshold {
		c.state = StateAcked
	}
	return nil
}

func ackMessage(epoch uint64, dealerPub, playerPub []byte, commitmentHash [32]byte) []byte {
	msg := make([]byte, 0, 8+len(dealerPub)+len(playerPub)+len(commitmentHash))
	msg = append(msg, uint64BE(epoch)...)
	msg = append(msg, dealerPub...)
	msg = append(msg, playerPub...)
	msg = append(msg, commitmentHash[:]...)
	return msg
}

func uint64BE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func commitmentHash(p *crypto.Polynomial) [32]byte {
	h := sha256.New()
	for _, c := range p.Commitments {
		b, _ := c.MarshalBinary()
		h.Write(b)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func findByIndex(ps []validator.Participant, index int) *validator.Participant {
	for i := range ps {
		if ps[i].Index == index {
			return &ps[i]
		}
	}
	return nil
}

// ConstructIntermediateOutcome assembles and caches this dealer's
// IntermediateOutcome once >= threshold acks are held (spec §4.1
// "construct_intermediate_outcome... Pure given current state").
func (c *Ceremony) ConstructIntermediateOutcome() error {
	if !c.role.Has(RoleDealer) {
		return nil
	}
	selfDealerIdx := IndexOf(dealerKeys(c.cfg.Dealers), selfPub(c.cfg))
	contrib, ok := c.contributions[selfDealerIdx]
	if !ok || len(contrib.acks) < c.cfg.Threshold {
		return nil // not enough acks yet; not an error, just not ready
	}
	if c.ownOutcome != nil {
		return nil // already constructed; pure/idempotent
	}

	acks := make([]Ack, 0, len(contrib.acks))
	for _, a := range contrib.acks {
		acks = append(acks, a)
	}
	reveals := make([]Reveal, 0, len(contrib.reveals))
	for _, r := range contrib.reveals {
		reveals = append(reveals, r)
	}

	dealerMsg := ackMessage(c.cfg.Epoch, c.cfg.Self.Public, nil, commitmentHash(contrib.commitment))
	sig := c.cfg.Self.Sign(dealerMsg)

	out := &IntermediateOutcome{
		Epoch:      c.cfg.Epoch,
		Commitment: contrib.commitment,
		Acks:       acks,
		Reveals:    reveals,
	}
	copy(out.DealerPubKey[:], c.cfg.Self.Public)
	copy(out.DealerSignature[:], sig)
	c.ownOutcome = out
	if c.state < StateAcked {
		c.state = StateAcked
	}
	return c.persist()
}

// ProcessDealingsInBlock scans a block's extra_data for an
// IntermediateOutcome and ingests it if its dealer is in cfg.Dealers
// and the epoch matches (spec §4.1 "process_dealings_in_block"). A
// dealer index mismatch, decode failure, or epoch mismatch is ignored
// rather than rejected — the boundary-block PublicOutcome check is
// what catches correctness-relevant divergence (spec §9 Open
// Questions).
func (c *Ceremony) ProcessDealingsInBlock(extraData []byte) {
	if len(extraData) == 0 {
		return
	}
	out, err := DecodeIntermediateOutcome(c.cfg.Scheme, c.cfg.Threshold, extraData)
	if err != nil {
		return // advisory data; absence/malformation is not an error here
	}
	if out.Epoch != c.cfg.Epoch {
		return
	}
	dealerIdx := IndexOf(dealerKeys(c.cfg.Dealers), out.DealerPubKey[:])
	if dealerIdx < 0 {
		return
	}
	dealerMsg := ackMessage(out.Epoch, out.DealerPubKey[:], nil, commitmentHash(out.Commitment))
	if !crypto.Verify(out.DealerPubKey[:], dealerMsg, out.DealerSignature[:]) {
		return
	}

	contrib, ok := c.contributions[dealerIdx]
	if !ok {
		contrib = &dealerContribution{acks: make(map[[32]byte]Ack), reveals: make(map[int]Reveal), fromBlock: true}
		c.contributions[dealerIdx] = contrib
	}
	contrib.commitment = out.Commitment
	for _, a := range out.Acks {
		contrib.acks[a.PlayerPubKey] = a
	}
	for _, r := range out.Reveals {
		contrib.reveals[r.PlayerIndex] = r
	}
	_ = c.persist()
}

// DealOutcome returns the locally produced IntermediateOutcome, if
// available (spec §4.1 "deal_outcome").
func (c *Ceremony) DealOutcome() *IntermediateOutcome { return c.ownOutcome }

// Finalize resolves the ceremony: if >= threshold dealers each have >=
// threshold acks, recovers/constructs the new public polynomial (and
// this node's new share, if Player) and transitions to Success;
// otherwise falls back to the previous epoch's key material and
// transitions to Failure (spec §4.1 "finalize... A ceremony cannot be
// retried within its epoch").
func (c *Ceremony) Finalize() (*FinalOutcome, error) {
	if c.final != nil {
		return c.final, nil // terminal states are immutable (spec §4.1)
	}
	c.state = StateFinalizing

	contributing := make([]int, 0, len(c.contributions))
	for idx, contrib := range c.contributions {
		if len(contrib.acks) >= c.cfg.Threshold && contrib.commitment != nil {
			contributing = append(contributing, idx)
		}
	}

	if len(contributing) < c.cfg.Threshold {
		c.final = c.fallback()
		c.state = StateFailure
		return c.final, c.persist()
	}

	sort.Ints(contributing)
	var public *crypto.Polynomial
	var err error
	if c.cfg.PreviousPublic != nil {
		dcs := make([]crypto.DealerContribution, 0, len(contributing))
		for _, idx := range contributing {
			dcs = append(dcs, crypto.DealerContribution{DealerIndex: idx, Commitment: c.contributions[idx].commitment})
		}
		public, err = crypto.RecoverPublic(c.cfg.Scheme, c.cfg.Threshold, dcs)
	} else {
		polys := make([]*crypto.Polynomial, 0, len(contributing))
		for _, idx := range contributing {
			polys = append(polys, c.contributions[idx].commitment)
		}
		public, err = crypto.ConstructPublic(c.cfg.Scheme, polys)
	}
	if err != nil {
		c.final = c.fallback()
		c.state = StateFailure
		return c.final, c.persist()
	}

	participants := dealerKeys(c.cfg.Players)
	out := &FinalOutcome{Success: true, Participants: participants, Public: public, Role: c.role}
	if c.role.Has(RolePlayer) {
		out.Share = c.recoverOwnShare(contributing)
	}
	c.final = out
	c.state = StateSuccess
	return c.final, c.persist()
}

// recoverOwnShare combines this player's per-dealer shares the same
// way the public polynomial is combined: summed directly when
// constructing fresh, Lagrange-weighted at dealer indices when
// resharing.
func (c *Ceremony) recoverOwnShare(contributing []int) *share.PriShare {
	selfIdx := IndexOf(playerKeys(c.cfg.Players), selfPub(c.cfg))
	group := c.cfg.Scheme.Pairing

	if c.cfg.PreviousPublic == nil {
		sum := group.Scalar().Zero()
		for _, idx := range contributing {
			s, ok := c.receivedShares[idx]
			if !ok {
				continue
			}
			sum = group.Scalar().Add(sum, s.V)
		}
		return &share.PriShare{I: selfIdx, V: sum}
	}

	shares := make([]*share.PriShare, 0, len(contributing))
	for _, idx := range contributing {
		if s, ok := c.receivedShares[idx]; ok {
			shares = append(shares, &share.PriShare{I: idx, V: s.V})
		}
	}
	secret, err := share.RecoverSecret(group, shares, c.cfg.Threshold, len(c.cfg.Dealers))
	if err != nil {
		return nil
	}
	return &share.PriShare{I: selfIdx, V: secret}
}

func (c *Ceremony) fallback() *FinalOutcome {
	return &FinalOutcome{
		Success:      false,
		Participants: dealerKeys(c.cfg.Dealers),
		Public:       c.cfg.PreviousPublic,
		Share:        c.cfg.PreviousShare,
		Role:         c.role,
	}
}
