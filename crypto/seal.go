package crypto

import (
	cryptorand "crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// EncryptionKeyPair is a participant's X25519 key used only to encrypt
// dealt shares over the SHARES channel (spec §3.1 "Deal"). It is kept
// deliberately separate from the Ed25519 identity KeyPair used for
// signing — reusing one key pair for both signing and key-exchange is
// a well-known footgun, so a dealer generates this alongside its
// identity key and advertises it the same way.
type EncryptionKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// NewEncryptionKeyPair generates a fresh X25519 key pair.
func NewEncryptionKeyPair() (*EncryptionKeyPair, error) {
	pub, priv, err := box.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate encryption keypair: %w", err)
	}
	return &EncryptionKeyPair{Public: *pub, Private: *priv}, nil
}

// nonceLen is the NaCl box nonce size, prepended to every sealed
// message so Open can recover it without a separate channel.
const nonceLen = 24

// Seal encrypts msg for recipientPub using senderPriv, the per-player
// encryption spec §3.1 describes for a dealt Deal.EncryptedShare.
func Seal(senderPriv *[32]byte, recipientPub *[32]byte, msg []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := cryptorand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: seal nonce: %w", err)
	}
	out := make([]byte, 0, nonceLen+len(msg)+box.Overhead)
	out = append(out, nonce[:]...)
	out = box.Seal(out, msg, &nonce, recipientPub, senderPriv)
	return out, nil
}

// Open decrypts a message produced by Seal, verifying it came from
// senderPub and was addressed to recipientPriv.
func Open(recipientPriv *[32]byte, senderPub *[32]byte, data []byte) ([]byte, error) {
	if len(data) < nonceLen {
		return nil, fmt.Errorf("crypto: sealed message too short: %d bytes", len(data))
	}
	var nonce [nonceLen]byte
	copy(nonce[:], data[:nonceLen])
	out, ok := box.Open(nil, data[nonceLen:], &nonce, senderPub, recipientPriv)
	if !ok {
		return nil, fmt.Errorf("crypto: open: authentication failed")
	}
	return out, nil
}
