package waddrmgr

import (
	"github.com/electra-project/ecawallet/internal/zero"
	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/snacl"
)

// AddressType represents the kinds of addresses held by the manager.
type AddressType uint8

const (
	// MasterNode is the address of the root key of the HD tree.
	MasterNode AddressType = iota

	// Chain is an address derived at a sequential chain index.
	Chain

	// Custom is an address imported by the caller.  It is not part of the
	// HD tree.
	Custom
)

// String returns the AddressType as a human-readable name.
func (t AddressType) String() string {
	switch t {
	case MasterNode:
		return "master"
	case Chain:
		return "chain"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// sealedSecret holds one secret either in clear text or, while the manager is
// locked, only as ciphertext sealed with the master private key.
type sealedSecret struct {
	clearText []byte
	encrypted []byte
}

// newSealedSecret returns a secret holding a private copy of clearText.
func newSealedSecret(clearText []byte) *sealedSecret {
	ct := make([]byte, len(clearText))
	copy(ct, clearText)
	return &sealedSecret{clearText: ct}
}

// seal encrypts the clear text without changing the secret.
func (s *sealedSecret) seal(key *snacl.SecretKey) ([]byte, error) {
	return key.Encrypt(s.clearText)
}

// open decrypts the ciphertext without changing the secret.  The returned
// clear text is a copy owned by the caller.
func (s *sealedSecret) open(key *snacl.SecretKey) ([]byte, error) {
	return key.Decrypt(s.encrypted)
}

// lock installs the ciphertext and zeroes the clear text.
func (s *sealedSecret) lock(encrypted []byte) {
	zero.Bytes(s.clearText)
	s.clearText = nil
	s.encrypted = encrypted
}

// unlock installs the clear text and drops the ciphertext.
func (s *sealedSecret) unlock(clearText []byte) {
	zero.Bytes(s.encrypted)
	s.encrypted = nil
	s.clearText = clearText
}

// string returns the clear text, which must be available.
func (s *sealedSecret) string() string {
	return string(s.clearText)
}

// wipe zeroes both representations.
func (s *sealedSecret) wipe() {
	zero.Bytes(s.clearText)
	zero.Bytes(s.encrypted)
	s.clearText = nil
	s.encrypted = nil
}

// managedAddress is an address held by the manager.  The hash is always
// readable while the private key is sealed whenever the manager is locked.
type managedAddress struct {
	addrType AddressType
	index    uint32
	hash     string
	privKey  *sealedSecret
}

// newManagedAddress returns a managed address owning a copy of the private
// key of addr.
func newManagedAddress(addrType AddressType, index uint32,
	addr keychain.Address) *managedAddress {

	return &managedAddress{
		addrType: addrType,
		index:    index,
		hash:     addr.Hash,
		privKey:  newSealedSecret([]byte(addr.PrivateKey)),
	}
}

// export returns the address as exposed to callers.  The private key is left
// empty when it is sealed.
//
// This function MUST be called with the manager lock held for reads.
func (a *managedAddress) export(locked bool) keychain.Address {
	addr := keychain.Address{Hash: a.hash}
	if !locked {
		addr.PrivateKey = a.privKey.string()
	}
	return addr
}
