package keychain

import (
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// BIP0044Purpose is the purpose field of every chain address path.
	//
	// The hierarchy described by BIP0044 is:
	//  m/44'/<coin type>'/<account>'/<branch>/<address index>
	//
	// Chain addresses live on the external branch of account 0, and the
	// chain index is the address index.  The master node is m itself.
	BIP0044Purpose = 44

	// CoinTypeElectra is the SLIP-0044 registered coin type of Electra.
	CoinTypeElectra = 249

	// DefaultAccount is the account every chain address is derived
	// under.
	DefaultAccount = 0

	// ExternalBranch is the branch used for chain addresses.
	ExternalBranch = 0

	// MnemonicEntropyBits is the entropy of generated mnemonics, which
	// yields 12 words.
	MnemonicEntropyBits = 128
)

// ElectraMainNetParams defines the network parameters used to encode Electra
// addresses and private keys.  Only the fields that affect key and address
// encoding differ from the bitcoin main network.
var ElectraMainNetParams = electraMainNetParams()

func electraMainNetParams() *chaincfg.Params {
	params := chaincfg.MainNetParams
	params.Name = "electra"

	// Pay-to-pubkey-hash addresses start with an upper case E.
	params.PubKeyHashAddrID = 0x21
	params.ScriptHashAddrID = 0x28

	// Compressed private keys in wallet import format start with Q.
	params.PrivateKeyID = 0xa1

	params.HDCoinType = CoinTypeElectra

	return &params
}
