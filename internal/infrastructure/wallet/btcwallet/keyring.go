package btcwallet

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

var (
	signatureKeyTag  = []byte("p2ptrade/signature")
	encryptionKeyTag = []byte("p2ptrade/encryption")
)

// KeyRing holds the identity of the node: a secp256k1 key signing contracts
// and a curve25519 key opening the messages sealed for the node's mailbox.
// Both are derived from the wallet seed, the identity survives restarts.
type KeyRing struct {
	signingKey *btcec.PrivateKey
	encPubKey  [32]byte
	encPrvKey  [32]byte
}

func NewKeyRing(seed []byte) (*KeyRing, error) {
	if len(seed) <= 0 {
		return nil, ErrNullSeed
	}

	signingKey, _ := btcec.PrivKeyFromBytes(
		chainhash.TaggedHash(signatureKeyTag, seed)[:],
	)

	kr := &KeyRing{signingKey: signingKey}
	copy(kr.encPrvKey[:], chainhash.TaggedHash(encryptionKeyTag, seed)[:])
	pubkey, err := curve25519.X25519(kr.encPrvKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	copy(kr.encPubKey[:], pubkey)
	return kr, nil
}

func (k *KeyRing) PubKeyRing() domain.PubKeyRing {
	encPubKey := make([]byte, len(k.encPubKey))
	copy(encPubKey, k.encPubKey[:])
	return domain.PubKeyRing{
		SignaturePubKey:  k.signingKey.PubKey().SerializeCompressed(),
		EncryptionPubKey: encPubKey,
	}
}

// Sign returns the DER signature of the sha256 of msg.
func (k *KeyRing) Sign(msg []byte) ([]byte, error) {
	hash := sha256.Sum256(msg)
	return ecdsa.Sign(k.signingKey, hash[:]).Serialize(), nil
}

func (k *KeyRing) Verify(signaturePubKey, msg, sig []byte) error {
	pubkey, err := btcec.ParsePubKey(signaturePubKey)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPubKey, err)
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	hash := sha256.Sum256(msg)
	if !signature.Verify(hash[:], pubkey) {
		return ErrInvalidSignature
	}
	return nil
}

// Seal encrypts msg so that only the owner of encryptionPubKey can read it.
// The sender stays anonymous.
func (k *KeyRing) Seal(encryptionPubKey, msg []byte) ([]byte, error) {
	if len(encryptionPubKey) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes", ErrInvalidPubKey)
	}
	var recipient [32]byte
	copy(recipient[:], encryptionPubKey)
	return box.SealAnonymous(nil, msg, &recipient, rand.Reader)
}

func (k *KeyRing) Open(sealed []byte) ([]byte, error) {
	msg, ok := box.OpenAnonymous(nil, sealed, &k.encPubKey, &k.encPrvKey)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return msg, nil
}
