package keychain

// Address is a key pair as exposed to wallet callers: the encoded public
// address hash and the private key it was derived from, in wallet import
// format.  Hash is always re-derivable from PrivateKey through
// KeyDeriver.AddressHashFromPrivateKey.
type Address struct {
	Hash       string
	PrivateKey string
}

// MnemonicService creates, validates and stretches mnemonic sentences.
type MnemonicService interface {
	// GenerateMnemonic returns a fresh 12 word lowercase mnemonic with a
	// valid checksum.
	GenerateMnemonic() (string, error)

	// ValidateMnemonic reports whether every word of the mnemonic belongs
	// to the word list and the checksum matches.
	ValidateMnemonic(mnemonic string) bool

	// MnemonicToSeed computes the wallet seed.  An empty extension means
	// no extension was supplied.
	MnemonicToSeed(mnemonic, extension string, passphrase []byte) ([]byte, error)
}

// KeyDeriver turns a seed into addresses and re-derives address hashes from
// private keys.
type KeyDeriver interface {
	// DeriveMasterNode returns the address of the root key of the tree.
	DeriveMasterNode(seed []byte) (*Address, error)

	// DeriveChainAddress returns the address of chain index.
	DeriveChainAddress(seed []byte, index uint32) (*Address, error)

	// AddressHashFromPrivateKey returns the address hash that belongs to
	// the encoded private key.
	AddressHashFromPrivateKey(privateKey string) (string, error)
}

// KeyRing is the full key derivation collaborator of a wallet.
type KeyRing interface {
	MnemonicService
	KeyDeriver
}
