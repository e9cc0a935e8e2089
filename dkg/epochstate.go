// Package dkg drives one Ceremony per epoch, synchronized to block
// height landmarks, and serves the Consensus Application's queries for
// outcomes to embed (spec §4.2).
package dkg

import (
	"encoding/base64"

	"github.com/BurntSushi/toml"
	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	bolt "go.etcd.io/bbolt"

	tmerrors "github.com/tempolabs/tempo/common/errors"
	"github.com/tempolabs/tempo/crypto"
)

// EpochState is the persisted, canonical view of the local node's key
// material for the current epoch (spec §3 "EpochState"). Share is
// present only if this node is a Player in the current epoch.
type EpochState struct {
	Epoch        uint64
	Participants [][]byte
	Public       *crypto.Polynomial
	Share        *share.PriShare
}

var epochStateBucket = []byte("epoch_state")

const epochStateKey = "current"

// EpochStateStore persists the single current EpochState, TOML-encoded
// the same way ceremony.Store encodes its snapshots (spec §6.1
// "<prefix>_current_epoch").
type EpochStateStore struct {
	db     *bolt.DB
	scheme *crypto.Scheme
}

// OpenEpochStateStore opens (creating if absent) the bbolt file at path.
func OpenEpochStateStore(path string, scheme *crypto.Scheme) (*EpochStateStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: open epoch state store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(epochStateBucket)
		return err
	})
	if err != nil {
		return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: create epoch state bucket")
	}
	return &EpochStateStore{db: db, scheme: scheme}, nil
}

func (s *EpochStateStore) Close() error { return s.db.Close() }

type epochStateTOML struct {
	Epoch        uint64
	Participants []string
	Public       []string
	HasShare     bool
	ShareIndex   int
	ShareValue   string
}

// Save persists state as the current EpochState, overwriting whatever
// was there before (spec §3 "EpochState is written at the
// pre-boundary").
func (s *EpochStateStore) Save(state *EpochState) error {
	m := epochStateTOML{Epoch: state.Epoch}
	for _, p := range state.Participants {
		m.Participants = append(m.Participants, base64.StdEncoding.EncodeToString(p))
	}
	if state.Public != nil {
		for _, c := range state.Public.Commitments {
			b, err := c.MarshalBinary()
			if err != nil {
				return tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: marshal epoch state public")
			}
			m.Public = append(m.Public, base64.StdEncoding.EncodeToString(b))
		}
	}
	if state.Share != nil {
		b, err := state.Share.V.MarshalBinary()
		if err != nil {
			return tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: marshal epoch state share")
		}
		m.HasShare = true
		m.ShareIndex = state.Share.I
		m.ShareValue = base64.StdEncoding.EncodeToString(b)
	}

	var out []byte
	w := &appendWriter{buf: &out}
	if err := toml.NewEncoder(w).Encode(m); err != nil {
		return tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: encode epoch state")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(epochStateBucket).Put([]byte(epochStateKey), out)
	})
}

// Load reads the current EpochState, if any has been saved.
func (s *EpochStateStore) Load() (*EpochState, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(epochStateBucket).Get([]byte(epochStateKey))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: read epoch state")
	}
	if raw == nil {
		return nil, false, nil
	}
	var m epochStateTOML
	if _, err := toml.Decode(string(raw), &m); err != nil {
		return nil, false, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: decode epoch state")
	}

	state := &EpochState{Epoch: m.Epoch}
	for _, p := range m.Participants {
		b, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, false, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: decode epoch state participant")
		}
		state.Participants = append(state.Participants, b)
	}
	points, err := decodePoints(s.scheme, m.Public)
	if err != nil {
		return nil, false, err
	}
	state.Public = &crypto.Polynomial{Scheme: s.scheme, Commitments: points}

	if m.HasShare {
		b, err := base64.StdEncoding.DecodeString(m.ShareValue)
		if err != nil {
			return nil, false, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: decode epoch state share")
		}
		scalar := s.scheme.Pairing.Scalar()
		if err := scalar.UnmarshalBinary(b); err != nil {
			return nil, false, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: unmarshal epoch state share")
		}
		state.Share = &share.PriShare{I: m.ShareIndex, V: scalar}
	}
	return state, true, nil
}

func decodePoints(scheme *crypto.Scheme, encoded []string) ([]kyber.Point, error) {
	out := make([]kyber.Point, len(encoded))
	for i, e := range encoded {
		b, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: decode point")
		}
		pt := scheme.Pairing.Point()
		if err := pt.UnmarshalBinary(b); err != nil {
			return nil, tmerrors.Wrap(tmerrors.KindFatal, err, "dkg: unmarshal point")
		}
		out[i] = pt
	}
	return out, nil
}

type appendWriter struct{ buf *[]byte }

func (w *appendWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
