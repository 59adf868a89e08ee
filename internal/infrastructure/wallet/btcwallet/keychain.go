package btcwallet

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/domain"
	"github.com/tdex-network/tdex-p2ptrade/internal/core/ports"
)

// Keychain derives the P2WPKH keys of the wallet from a BIP32 seed.
type Keychain struct {
	params *chaincfg.Params
	branch *hdkeychain.ExtendedKey

	lock  *sync.RWMutex
	cache map[uint32]*btcec.PrivateKey
}

// KeychainOpts ...
type KeychainOpts struct {
	Seed    []byte
	Network *chaincfg.Params
	// Path defaults to m/84'/coin'/0'/0.
	Path DerivationPath
}

func (o KeychainOpts) validate() error {
	if len(o.Seed) <= 0 {
		return ErrNullSeed
	}
	if o.Network == nil {
		return ErrNullNetwork
	}
	return nil
}

func NewKeychain(opts KeychainOpts) (*Keychain, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	path := opts.Path
	if len(path) == 0 {
		path = DefaultDerivationPath(opts.Network)
	}

	key, err := hdkeychain.NewMaster(opts.Seed, opts.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, i := range path {
		if key, err = key.Derive(i); err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
	}

	return &Keychain{
		params: opts.Network,
		branch: key,
		lock:   &sync.RWMutex{},
		cache:  make(map[uint32]*btcec.PrivateKey),
	}, nil
}

// Network ...
func (k *Keychain) Network() *chaincfg.Params {
	return k.params
}

// DeriveKey returns the public key and the P2WPKH address at the given index
// of the branch.
func (k *Keychain) DeriveKey(index uint32) (ports.KeyInfo, error) {
	privKey, err := k.privKey(index)
	if err != nil {
		return ports.KeyInfo{}, err
	}
	pubkey := privKey.PubKey().SerializeCompressed()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubkey), k.params)
	if err != nil {
		return ports.KeyInfo{}, err
	}
	return ports.KeyInfo{
		Index:   index,
		PubKey:  pubkey,
		Address: addr.EncodeAddress(),
	}, nil
}

// signingKey returns the private key backing the entry, making sure the
// entry was derived by this keychain.
func (k *Keychain) signingKey(entry domain.AddressEntry) (*btcec.PrivateKey, error) {
	privKey, err := k.privKey(entry.KeyIndex)
	if err != nil {
		return nil, err
	}
	if len(entry.PubKey) > 0 &&
		!bytes.Equal(privKey.PubKey().SerializeCompressed(), entry.PubKey) {
		return nil, fmt.Errorf("%w: %s", ErrKeyMismatch, entry.Address)
	}
	return privKey, nil
}

func (k *Keychain) privKey(index uint32) (*btcec.PrivateKey, error) {
	k.lock.RLock()
	privKey, ok := k.cache[index]
	k.lock.RUnlock()
	if ok {
		return privKey, nil
	}

	child, err := k.branch.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key %d: %w", index, err)
	}
	privKey, err = child.ECPrivKey()
	if err != nil {
		return nil, err
	}

	k.lock.Lock()
	k.cache[index] = privKey
	k.lock.Unlock()
	return privKey, nil
}
