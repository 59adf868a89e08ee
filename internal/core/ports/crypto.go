package ports

import "github.com/tdex-network/tdex-p2ptrade/internal/core/domain"

// KeyRing holds the identity keys of the node, used to sign contracts and to
// seal messages stored in a peer's mailbox.
type KeyRing interface {
	PubKeyRing() domain.PubKeyRing
	Sign(msg []byte) ([]byte, error)
	Verify(signaturePubKey, msg, sig []byte) error
	Seal(encryptionPubKey, msg []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}
