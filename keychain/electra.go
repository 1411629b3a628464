package keychain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

var (
	// ErrInvalidMnemonic is returned when a mnemonic has unknown words or
	// a bad checksum.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidIndex is returned when a chain index would land in the
	// hardened range of the external branch.
	ErrInvalidIndex = errors.New("chain index out of range")

	// ErrWrongNetwork is returned when a private key is encoded for a
	// different network than the key ring's.
	ErrWrongNetwork = errors.New("private key is not for the key ring network")
)

// ElectraKeyRing is the KeyRing of Electra wallets.  Mnemonics follow BIP0039
// and keys follow BIP0032/BIP0044 with compressed secp256k1 public keys.
type ElectraKeyRing struct {
	params *chaincfg.Params
}

// A compile time check to ensure ElectraKeyRing implements KeyRing.
var _ KeyRing = (*ElectraKeyRing)(nil)

// NewElectraKeyRing returns a key ring encoding keys for the given network.
// A nil params selects ElectraMainNetParams.
func NewElectraKeyRing(params *chaincfg.Params) *ElectraKeyRing {
	if params == nil {
		params = ElectraMainNetParams
	}
	return &ElectraKeyRing{params: params}
}

// Params returns the network parameters of the key ring.
func (k *ElectraKeyRing) Params() *chaincfg.Params {
	return k.params
}

// GenerateMnemonic returns a fresh 12 word mnemonic.
//
// This is part of the MnemonicService interface.
func (k *ElectraKeyRing) GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic reports whether the mnemonic has known words and a valid
// checksum.
//
// This is part of the MnemonicService interface.
func (k *ElectraKeyRing) ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(normalizeMnemonic(mnemonic))
}

// MnemonicToSeed stretches the mnemonic into a 64 byte seed.  The BIP0039
// password is the extension immediately followed by the passphrase, with no
// separator: only the joined string takes part in the seed, so moving bytes
// between the two yields the same keys.
//
// This is part of the MnemonicService interface.
func (k *ElectraKeyRing) MnemonicToSeed(mnemonic, extension string,
	passphrase []byte) ([]byte, error) {

	mnemonic = normalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	return bip39.NewSeed(mnemonic, extension+string(passphrase)), nil
}

// DeriveMasterNode returns the address of the root key m.
//
// This is part of the KeyDeriver interface.
func (k *ElectraKeyRing) DeriveMasterNode(seed []byte) (*Address, error) {
	root, err := hdkeychain.NewMaster(seed, k.params)
	if err != nil {
		return nil, err
	}
	defer root.Zero()

	return k.address(root)
}

// DeriveChainAddress returns the address at m/44'/249'/0'/0/index.
//
// This is part of the KeyDeriver interface.
func (k *ElectraKeyRing) DeriveChainAddress(seed []byte,
	index uint32) (*Address, error) {

	if index >= hdkeychain.HardenedKeyStart {
		return nil, ErrInvalidIndex
	}

	branch, err := k.deriveExternalBranch(seed)
	if err != nil {
		return nil, err
	}
	defer branch.Zero()

	child, err := branch.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("unable to derive chain %d: %v", index,
			err)
	}
	defer child.Zero()

	addr, err := k.address(child)
	if err != nil {
		return nil, err
	}

	log.Tracef("Derived chain address %d: %s", index, addr.Hash)
	return addr, nil
}

// AddressHashFromPrivateKey decodes a WIF private key and returns the pay to
// pubkey hash address of its public key.
//
// This is part of the KeyDeriver interface.
func (k *ElectraKeyRing) AddressHashFromPrivateKey(privateKey string) (string, error) {
	wif, err := btcutil.DecodeWIF(privateKey)
	if err != nil {
		return "", err
	}
	if !wif.IsForNet(k.params) {
		return "", ErrWrongNetwork
	}

	return k.encodeAddress(wif.SerializePubKey())
}

// deriveExternalBranch derives m/44'/coin'/0'/0.  The returned key must be
// zeroed by the caller.
func (k *ElectraKeyRing) deriveExternalBranch(seed []byte) (
	*hdkeychain.ExtendedKey, error) {

	root, err := hdkeychain.NewMaster(seed, k.params)
	if err != nil {
		return nil, err
	}
	defer root.Zero()

	path := []uint32{
		hdkeychain.HardenedKeyStart + BIP0044Purpose,
		hdkeychain.HardenedKeyStart + k.params.HDCoinType,
		hdkeychain.HardenedKeyStart + DefaultAccount,
		ExternalBranch,
	}

	key := root
	for i, childNum := range path {
		next, err := key.Derive(childNum)
		if i > 0 {
			key.Zero()
		}
		if err != nil {
			return nil, err
		}
		key = next
	}

	return key, nil
}

// address encodes the private key of an extended key and its address.
func (k *ElectraKeyRing) address(key *hdkeychain.ExtendedKey) (*Address, error) {
	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}

	wif, err := btcutil.NewWIF(privKey, k.params, true)
	if err != nil {
		return nil, err
	}

	hash, err := k.encodeAddress(wif.SerializePubKey())
	if err != nil {
		return nil, err
	}

	return &Address{
		Hash:       hash,
		PrivateKey: wif.String(),
	}, nil
}

func (k *ElectraKeyRing) encodeAddress(serializedPubKey []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(serializedPubKey), k.params,
	)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// normalizeMnemonic collapses runs of white space so that the seed only
// depends on the words.
func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}
