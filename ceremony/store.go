package ceremony

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	bolt "go.etcd.io/bbolt"

	tmerrors "github.com/tempolabs/tempo/common/errors"
	"github.com/tempolabs/tempo/crypto"
)

// Snapshot is the Go-native, logic-facing persisted view of a
// Ceremony: everything needed to resume process_messages/finalize
// after a restart without re-running any network round (spec §4.1
// "Persistence happens through ceremony.Store").
type Snapshot struct {
	State State
	Role  Role

	// OwnDealing is set iff this node is a Dealer.
	OwnDealingPrivateCoeffs [][]byte
	OwnDealingPublicCommits [][]byte

	Contributions  []ContributionSnapshot
	ReceivedShares []ShareSnapshot

	OwnOutcome []byte // encoded IntermediateOutcome, nil if not yet constructed

	Final *FinalSnapshot
}

// ContributionSnapshot captures one dealer's progress as seen by this
// node: its commitment and the acks/reveals collected for it so far.
type ContributionSnapshot struct {
	DealerIndex int
	Commitment  [][]byte
	Acks        []Ack
	Reveals     []Reveal
}

// ShareSnapshot is a single (dealer index -> scalar) pair, reused both
// for per-dealer received shares and for a resolved final share.
type ShareSnapshot struct {
	Index int
	Value []byte
}

// FinalSnapshot mirrors FinalOutcome for persistence.
type FinalSnapshot struct {
	Success      bool
	Participants [][]byte
	Public       [][]byte
	Share        *ShareSnapshot
	Role         Role
}

// persist snapshots the Ceremony's current in-memory state and writes
// it through the store — called after every state-advancing operation
// so that a crash never loses more than the in-flight step (spec §5
// "write-ahead discipline").
func (c *Ceremony) persist() error {
	if c.store == nil {
		return nil
	}
	snap := &Snapshot{State: c.state, Role: c.role}

	if c.ownDealing != nil {
		coeffs, err := marshalScalars(c.ownDealing.Coefficients)
		if err != nil {
			return tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: marshal dealing coefficients")
		}
		snap.OwnDealingPrivateCoeffs = coeffs
		snap.OwnDealingPublicCommits = marshalPoints(c.ownDealing.Public.Commitments)
	}

	for idx, contrib := range c.contributions {
		cs := ContributionSnapshot{DealerIndex: idx}
		if contrib.commitment != nil {
			cs.Commitment = marshalPoints(contrib.commitment.Commitments)
		}
		for _, a := range contrib.acks {
			cs.Acks = append(cs.Acks, a)
		}
		for _, r := range contrib.reveals {
			cs.Reveals = append(cs.Reveals, r)
		}
		snap.Contributions = append(snap.Contributions, cs)
	}

	for idx, s := range c.receivedShares {
		raw, err := s.V.MarshalBinary()
		if err != nil {
			return tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: marshal received share")
		}
		snap.ReceivedShares = append(snap.ReceivedShares, ShareSnapshot{Index: idx, Value: raw})
	}

	if c.ownOutcome != nil {
		raw, err := EncodeIntermediateOutcome(c.ownOutcome)
		if err != nil {
			return tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: encode own outcome")
		}
		snap.OwnOutcome = raw
	}

	if c.final != nil {
		fs := &FinalSnapshot{Success: c.final.Success, Participants: c.final.Participants, Role: c.final.Role}
		if c.final.Public != nil {
			fs.Public = marshalPoints(c.final.Public.Commitments)
		}
		if c.final.Share != nil {
			raw, err := c.final.Share.V.MarshalBinary()
			if err != nil {
				return tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: marshal final share")
			}
			fs.Share = &ShareSnapshot{Index: c.final.Share.I, Value: raw}
		}
		snap.Final = fs
	}

	if err := c.store.Save(c.cfg.Epoch, snap); err != nil {
		return tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: persist snapshot")
	}
	return nil
}

// restore reconstructs in-memory state from a loaded Snapshot.
func (c *Ceremony) restore(snap *Snapshot) error {
	c.state = snap.State
	c.role = snap.Role

	if len(snap.OwnDealingPrivateCoeffs) > 0 {
		coeffs, err := unmarshalScalars(c.cfg.Scheme, snap.OwnDealingPrivateCoeffs)
		if err != nil {
			return err
		}
		c.ownDealing = crypto.RestoreDealerPolynomial(c.cfg.Scheme, coeffs)
	}

	for _, cs := range snap.Contributions {
		contrib := &dealerContribution{acks: make(map[[32]byte]Ack), reveals: make(map[int]Reveal)}
		if len(cs.Commitment) > 0 {
			commits, err := unmarshalPoints(c.cfg.Scheme, cs.Commitment)
			if err != nil {
				return err
			}
			contrib.commitment = &crypto.Polynomial{Scheme: c.cfg.Scheme, Commitments: commits}
		}
		for _, a := range cs.Acks {
			contrib.acks[a.PlayerPubKey] = a
		}
		for _, r := range cs.Reveals {
			contrib.reveals[r.PlayerIndex] = r
		}
		c.contributions[cs.DealerIndex] = contrib
	}

	for _, rs := range snap.ReceivedShares {
		scalar := c.cfg.Scheme.Pairing.Scalar()
		if err := scalar.UnmarshalBinary(rs.Value); err != nil {
			return fmt.Errorf("ceremony: restore received share %d: %w", rs.Index, err)
		}
		c.receivedShares[rs.Index] = &share.PriShare{I: rs.Index, V: scalar}
	}

	if len(snap.OwnOutcome) > 0 {
		out, err := DecodeIntermediateOutcome(c.cfg.Scheme, c.cfg.Threshold, snap.OwnOutcome)
		if err != nil {
			return fmt.Errorf("ceremony: restore own outcome: %w", err)
		}
		c.ownOutcome = out
	}

	if snap.Final != nil {
		fo := &FinalOutcome{Success: snap.Final.Success, Participants: snap.Final.Participants, Role: snap.Final.Role}
		if len(snap.Final.Public) > 0 {
			commits, err := unmarshalPoints(c.cfg.Scheme, snap.Final.Public)
			if err != nil {
				return err
			}
			fo.Public = &crypto.Polynomial{Scheme: c.cfg.Scheme, Commitments: commits}
		}
		if snap.Final.Share != nil {
			scalar := c.cfg.Scheme.Pairing.Scalar()
			if err := scalar.UnmarshalBinary(snap.Final.Share.Value); err != nil {
				return fmt.Errorf("ceremony: restore final share: %w", err)
			}
			fo.Share = &share.PriShare{I: snap.Final.Share.Index, V: scalar}
		}
		c.final = fo
	}
	return nil
}

func marshalPoints(points []kyber.Point) [][]byte {
	out := make([][]byte, len(points))
	for i, p := range points {
		b, _ := p.MarshalBinary()
		out[i] = b
	}
	return out
}

func unmarshalPoints(scheme *crypto.Scheme, raw [][]byte) ([]kyber.Point, error) {
	out := make([]kyber.Point, len(raw))
	for i, b := range raw {
		pt := scheme.Pairing.Point()
		if err := pt.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("ceremony: unmarshal point %d: %w", i, err)
		}
		out[i] = pt
	}
	return out, nil
}

func marshalScalars(scalars []kyber.Scalar) ([][]byte, error) {
	out := make([][]byte, len(scalars))
	for i, s := range scalars {
		b, err := s.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("ceremony: marshal scalar %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func unmarshalScalars(scheme *crypto.Scheme, raw [][]byte) ([]kyber.Scalar, error) {
	out := make([]kyber.Scalar, len(raw))
	for i, b := range raw {
		s := scheme.Pairing.Scalar()
		if err := s.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("ceremony: unmarshal scalar %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// ---- bbolt-backed PersistentStore ----

var ceremonyBucket = []byte("ceremony")

// Store is the bbolt-backed PersistentStore, TOML-encoding each
// epoch's Snapshot the same way drand's boltStore encodes
// DBState/DBStateTOML (spec §6.1 "<prefix>_ceremony").
type Store struct {
	db     *bolt.DB
	scheme *crypto.Scheme
}

// OpenStore opens (creating if absent) the bbolt file at path and
// ensures the ceremony bucket exists.
func OpenStore(path string, scheme *crypto.Scheme) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: open store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ceremonyBucket)
		return err
	})
	if err != nil {
		return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: create bucket")
	}
	return &Store{db: db, scheme: scheme}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func epochKey(epoch uint64) []byte { return []byte(strconv.FormatUint(epoch, 10)) }

// Save TOML-encodes snap and writes it under epoch's key.
func (s *Store) Save(epoch uint64, snap *Snapshot) error {
	mirror := toTOML(snap)
	enc, err := tomlEncode(mirror)
	if err != nil {
		return tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: encode snapshot")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ceremonyBucket).Put(epochKey(epoch), enc)
	})
}

// Load reads and TOML-decodes the snapshot for epoch, if present.
func (s *Store) Load(epoch uint64) (*Snapshot, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(ceremonyBucket).Get(epochKey(epoch))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: read snapshot")
	}
	if raw == nil {
		return nil, false, nil
	}
	var mirror snapshotTOML
	if _, err := toml.Decode(string(raw), &mirror); err != nil {
		return nil, false, tmerrors.Wrap(tmerrors.KindFatal, err, "ceremony: decode snapshot")
	}
	return fromTOML(&mirror), true, nil
}

// Prune deletes the snapshot for epoch, used by the DKG Manager to
// drop ceremony storage two epochs behind current (spec §5 "Resource
// policy").
func (s *Store) Prune(epoch uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ceremonyBucket).Delete(epochKey(epoch))
	})
}

func tomlEncode(v interface{}) ([]byte, error) {
	var out []byte
	w := &byteSliceWriter{buf: &out}
	if err := toml.NewEncoder(w).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

type byteSliceWriter struct{ buf *[]byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

// ---- TOML mirror (base64 strings in place of [][]byte, matching the
// teacher's DBState/DBStateTOML split for kyber-shaped values) ----

type snapshotTOML struct {
	State int
	Role  int

	OwnDealingPrivateCoeffs []string
	OwnDealingPublicCommits []string

	Contributions  []contributionTOML
	ReceivedShares []shareTOML

	OwnOutcome string

	HasFinal bool
	Final    finalTOML
}

type contributionTOML struct {
	DealerIndex int
	Commitment  []string
	Acks        []ackTOML
	Reveals     []revealTOML
}

type ackTOML struct {
	PlayerPubKey string
	Signature    string
}

type revealTOML struct {
	PlayerIndex int
	Share       string
}

type shareTOML struct {
	Index int
	Value string
}

type finalTOML struct {
	Success      bool
	Participants []string
	Public       []string
	HasShare     bool
	Share        shareTOML
	Role         int
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
func unb64(s string) []byte {
	b, _ := base64.StdEncoding.DecodeString(s)
	return b
}

func toTOML(s *Snapshot) *snapshotTOML {
	m := &snapshotTOML{State: int(s.State), Role: int(s.Role)}
	for _, c := range s.OwnDealingPrivateCoeffs {
		m.OwnDealingPrivateCoeffs = append(m.OwnDealingPrivateCoeffs, b64(c))
	}
	for _, c := range s.OwnDealingPublicCommits {
		m.OwnDealingPublicCommits = append(m.OwnDealingPublicCommits, b64(c))
	}
	for _, cs := range s.Contributions {
		ct := contributionTOML{DealerIndex: cs.DealerIndex}
		for _, c := range cs.Commitment {
			ct.Commitment = append(ct.Commitment, b64(c))
		}
		for _, a := range cs.Acks {
			ct.Acks = append(ct.Acks, ackTOML{PlayerPubKey: b64(a.PlayerPubKey[:]), Signature: b64(a.Signature[:])})
		}
		for _, r := range cs.Reveals {
			ct.Reveals = append(ct.Reveals, revealTOML{PlayerIndex: r.PlayerIndex, Share: b64(r.Share)})
		}
		m.Contributions = append(m.Contributions, ct)
	}
	for _, rs := range s.ReceivedShares {
		m.ReceivedShares = append(m.ReceivedShares, shareTOML{Index: rs.Index, Value: b64(rs.Value)})
	}
	m.OwnOutcome = b64(s.OwnOutcome)
	if s.Final != nil {
		m.HasFinal = true
		ft := finalTOML{Success: s.Final.Success, Role: int(s.Final.Role)}
		for _, p := range s.Final.Participants {
			ft.Participants = append(ft.Participants, b64(p))
		}
		for _, p := range s.Final.Public {
			ft.Public = append(ft.Public, b64(p))
		}
		if s.Final.Share != nil {
			ft.HasShare = true
			ft.Share = shareTOML{Index: s.Final.Share.Index, Value: b64(s.Final.Share.Value)}
		}
		m.Final = ft
	}
	return m
}

func fromTOML(m *snapshotTOML) *Snapshot {
	s := &Snapshot{State: State(m.State), Role: Role(m.Role)}
	for _, c := range m.OwnDealingPrivateCoeffs {
		s.OwnDealingPrivateCoeffs = append(s.OwnDealingPrivateCoeffs, unb64(c))
	}
	for _, c := range m.OwnDealingPublicCommits {
		s.OwnDealingPublicCommits = append(s.OwnDealingPublicCommits, unb64(c))
	}
	for _, ct := range m.Contributions {
		cs := ContributionSnapshot{DealerIndex: ct.DealerIndex}
		for _, c := range ct.Commitment {
			cs.Commitment = append(cs.Commitment, unb64(c))
		}
		for _, a := range ct.Acks {
			var ack Ack
			copy(ack.PlayerPubKey[:], unb64(a.PlayerPubKey))
			copy(ack.Signature[:], unb64(a.Signature))
			cs.Acks = append(cs.Acks, ack)
		}
		for _, r := range ct.Reveals {
			cs.Reveals = append(cs.Reveals, Reveal{PlayerIndex: r.PlayerIndex, Share: unb64(r.Share)})
		}
		s.Contributions = append(s.Contributions, cs)
	}
	for _, rs := range m.ReceivedShares {
		s.ReceivedShares = append(s.ReceivedShares, ShareSnapshot{Index: rs.Index, Value: unb64(rs.Value)})
	}
	s.OwnOutcome = unb64(m.OwnOutcome)
	if m.HasFinal {
		fs := &FinalSnapshot{Success: m.Final.Success, Role: Role(m.Final.Role)}
		for _, p := range m.Final.Participants {
			fs.Participants = append(fs.Participants, unb64(p))
		}
		for _, p := range m.Final.Public {
			fs.Public = append(fs.Public, unb64(p))
		}
		if m.Final.HasShare {
			fs.Share = &ShareSnapshot{Index: m.Final.Share.Index, Value: unb64(m.Final.Share.Value)}
		}
		s.Final = fs
	}
	return s
}
