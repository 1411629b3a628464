package keychain

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"
	testPassphrase = "correct horse battery staple"
	testExtension  = "electra"
)

type addressVector struct {
	name      string
	extension string
	master    Address
	chains    []Address
}

var addressVectors = []addressVector{
	{
		name:      "with extension",
		extension: testExtension,
		master: Address{
			Hash:       "ERHTnVXciVN87mW9hG7PRwaCjHEqJsWj97",
			PrivateKey: "QrPzKZec9HgfqKBdCSz8Njn22DTGebY5ZmbVZMgQ2RP4AyxCusGN",
		},
		chains: []Address{
			{
				Hash:       "EdT5sorsv7XFSUcL1gJNncM13aSeNoWjLM",
				PrivateKey: "QphVX3V5Q2m5bsscEuyuLt42UHSppkG22YesPTuTy8C1yEN1ouPi",
			},
			{
				Hash:       "Eb3aoyhZX6jqU41CThaCQkLa6Xhua226JX",
				PrivateKey: "QpTwicqcGrPkvgNNZZv41rpm7jBknmWrVfF6w8o9Rm2UQk628oSy",
			},
		},
	},
	{
		name: "without extension",
		master: Address{
			Hash:       "ERxVio5Fqur365XegkEoPgwkVhBGn6GZVe",
			PrivateKey: "QqQ3RAmKrN6aFShLTgWzheCFhNTEGVbfjbnkZbGY2HjVzimwhjBx",
		},
		chains: []Address{
			{
				Hash:       "EWQmjUfon1f3Pvv5D2kNeSfv12XZdNyo1D",
				PrivateKey: "QwKnM7GXWZsZKopujJfJJ2Hcn9ZCoHAtBd7rrPenFKqDMJL7mV7C",
			},
			{
				Hash:       "EMLRNSAKnoo2aR7BVHg4qHctcsdc6MdF4W",
				PrivateKey: "QrRGV3FaL44ULmvg1p7U98Mffr6FPx1f2DUDr5xEh6syLMT4wh8e",
			},
		},
	},
}

// TestAddressVectors derives the master node and the first two chains of the
// reference mnemonic with and without an extension.
func TestAddressVectors(t *testing.T) {
	t.Parallel()

	keyRing := NewElectraKeyRing(nil)

	for _, vector := range addressVectors {
		vector := vector
		t.Run(vector.name, func(t *testing.T) {
			t.Parallel()

			seed, err := keyRing.MnemonicToSeed(
				testMnemonic, vector.extension,
				[]byte(testPassphrase),
			)
			require.NoError(t, err)
			require.Len(t, seed, 64)

			master, err := keyRing.DeriveMasterNode(seed)
			require.NoError(t, err)
			require.Equal(t, vector.master, *master)

			for i, expected := range vector.chains {
				addr, err := keyRing.DeriveChainAddress(
					seed, uint32(i),
				)
				require.NoError(t, err)
				require.Equal(t, expected, *addr, "chain %d", i)

				hash, err := keyRing.AddressHashFromPrivateKey(
					addr.PrivateKey,
				)
				require.NoError(t, err)
				require.Equal(t, addr.Hash, hash)
			}
		})
	}
}

func TestAddressHashFromPrivateKey(t *testing.T) {
	t.Parallel()

	keyRing := NewElectraKeyRing(nil)

	keyBytes := sha256.Sum256([]byte("ecawallet custom address"))
	privKey, _ := btcec.PrivKeyFromBytes(keyBytes[:])
	wif, err := btcutil.NewWIF(privKey, keyRing.Params(), true)
	require.NoError(t, err)
	require.Equal(
		t, "QrLe53PbM64z8zZzepm186mr1PZnLMQRYXP7z8ZFF4hvs8EiRfNP",
		wif.String(),
	)

	hash, err := keyRing.AddressHashFromPrivateKey(wif.String())
	require.NoError(t, err)
	require.Equal(t, "EVw87St9zZ24d1KqzWMjpb6SuaepytXxeb", hash)

	// The same key encoded for bitcoin is rejected.
	btcWIF, err := btcutil.NewWIF(privKey, &chaincfg.MainNetParams, true)
	require.NoError(t, err)
	_, err = keyRing.AddressHashFromPrivateKey(btcWIF.String())
	require.ErrorIs(t, err, ErrWrongNetwork)

	_, err = keyRing.AddressHashFromPrivateKey("not a key")
	require.Error(t, err)
}

func TestMnemonicValidation(t *testing.T) {
	t.Parallel()

	keyRing := NewElectraKeyRing(nil)

	require.True(t, keyRing.ValidateMnemonic(testMnemonic))

	// One altered character breaks the word list lookup.
	require.False(t, keyRing.ValidateMnemonic(testMnemonic[1:]))

	// A known word in the wrong place breaks the checksum.
	badChecksum := strings.Replace(testMnemonic, "about", "abandon", 1)
	require.False(t, keyRing.ValidateMnemonic(badChecksum))

	_, err := keyRing.MnemonicToSeed(badChecksum, "", []byte("pass"))
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestGenerateMnemonic(t *testing.T) {
	t.Parallel()

	keyRing := NewElectraKeyRing(nil)

	mnemonic, err := keyRing.GenerateMnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(mnemonic), 12)
	require.Equal(t, strings.ToLower(mnemonic), mnemonic)
	require.True(t, keyRing.ValidateMnemonic(mnemonic))

	other, err := keyRing.GenerateMnemonic()
	require.NoError(t, err)
	require.NotEqual(t, mnemonic, other)
}

func TestDeriveChainAddressIndexRange(t *testing.T) {
	t.Parallel()

	keyRing := NewElectraKeyRing(nil)
	seed, err := keyRing.MnemonicToSeed(testMnemonic, "", []byte("pass"))
	require.NoError(t, err)

	_, err = keyRing.DeriveChainAddress(seed, 1<<31)
	require.ErrorIs(t, err, ErrInvalidIndex)
}

// TestDerivationProperties checks that derivation is a pure function of the
// seed and index and that every derived hash matches its private key.
func TestDerivationProperties(t *testing.T) {
	t.Parallel()

	keyRing := NewElectraKeyRing(nil)

	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.SliceOfN(rapid.Byte(), 16, 64).Draw(t, "seed")
		index := rapid.Uint32Range(0, 1000).Draw(t, "index")

		first, err := keyRing.DeriveChainAddress(seed, index)
		require.NoError(t, err)
		second, err := keyRing.DeriveChainAddress(seed, index)
		require.NoError(t, err)
		require.Equal(t, first, second)

		hash, err := keyRing.AddressHashFromPrivateKey(first.PrivateKey)
		require.NoError(t, err)
		require.Equal(t, first.Hash, hash)

		master, err := keyRing.DeriveMasterNode(seed)
		require.NoError(t, err)
		require.NotEqual(t, master.Hash, first.Hash)
	})
}

// TestExtensionChangesSeed ensures the extension and passphrase both take
// part in the seed.
func TestExtensionChangesSeed(t *testing.T) {
	t.Parallel()

	keyRing := NewElectraKeyRing(nil)
	pass := []byte(testPassphrase)

	withExt, err := keyRing.MnemonicToSeed(testMnemonic, testExtension, pass)
	require.NoError(t, err)
	withoutExt, err := keyRing.MnemonicToSeed(testMnemonic, "", pass)
	require.NoError(t, err)
	otherPass, err := keyRing.MnemonicToSeed(
		testMnemonic, testExtension, []byte("other"),
	)
	require.NoError(t, err)

	require.NotEqual(t, withExt, withoutExt)
	require.NotEqual(t, withExt, otherPass)

	// Only the joined password counts.
	joined, err := keyRing.MnemonicToSeed(
		testMnemonic, "", []byte(testExtension+testPassphrase),
	)
	require.NoError(t, err)
	require.Equal(t, withExt, joined)
}
