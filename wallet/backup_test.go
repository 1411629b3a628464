package wallet

import (
	"testing"

	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/waddrmgr"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// requireSameWallet checks that two wallets hold the same keys.
func requireSameWallet(t *testing.T, expected, actual *Wallet) {
	t.Helper()

	expectedAll, err := expected.AllAddresses()
	require.NoError(t, err)
	actualAll, err := actual.AllAddresses()
	require.NoError(t, err)
	require.Equal(t, expectedAll, actualAll)

	expectedCustom, err := expected.CustomAddresses()
	require.NoError(t, err)
	actualCustom, err := actual.CustomAddresses()
	require.NoError(t, err)
	require.Equal(t, expectedCustom, actualCustom)

	expectedMaster, err := expected.MasterNode()
	require.NoError(t, err)
	actualMaster, err := actual.MasterNode()
	require.NoError(t, err)
	require.Equal(t, expectedMaster, actualMaster)
}

// roundTrip exports w, passes the backup through its serialized form and
// restores it into a new wallet.
func roundTrip(t *testing.T, w *Wallet, passphrase []byte) (*Backup, *Wallet) {
	t.Helper()

	backup, err := w.Export()
	require.NoError(t, err)

	decoded, err := DeserializeBackup(backup.Serialize())
	require.NoError(t, err)
	require.Equal(t, backup, decoded)

	restored := newTestWallet(t, nil)
	require.NoError(t, restored.Restore(decoded, passphrase))
	require.Equal(t, StateReady, restored.State())

	return backup, restored
}

func TestExportRestoreGeneratedMnemonic(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, nil)
	require.NoError(t, w.Generate(testPass,
		WithMnemonicExtension(testExtension), WithChainsCount(3)))
	require.NoError(t, w.ImportCustomAddress(testCustom))

	backup, restored := roundTrip(t, w, testPass)

	mnemonic, err := w.Mnemonic()
	require.NoError(t, err)
	require.Equal(t, mnemonic, backup.Mnemonic)
	require.Equal(t, testExtension, backup.MnemonicExtension)
	require.EqualValues(t, 3, backup.ChainsCount)
	require.Empty(t, backup.MasterKey)
	require.Empty(t, backup.ChainKeys)
	require.Equal(t, []string{testCustom.PrivateKey}, backup.CustomKeys)

	requireSameWallet(t, w, restored)

	// The restored wallet can be backed up the same way.
	restoredMnemonic, err := restored.Mnemonic()
	require.NoError(t, err)
	require.Equal(t, mnemonic, restoredMnemonic)
	again, err := restored.Export()
	require.NoError(t, err)
	require.Equal(t, backup, again)

	// A mnemonic backup needs the generation passphrase.
	other := newTestWallet(t, nil)
	require.NoError(t, other.Restore(backup, wrongPass))
	otherAll, err := other.AllAddresses()
	require.NoError(t, err)
	all, err := w.AllAddresses()
	require.NoError(t, err)
	require.NotEqual(t, all[0], otherAll[0])
}

func TestExportRestoreSuppliedMnemonic(t *testing.T) {
	t.Parallel()

	w := newFixtureWallet(t, nil)
	require.NoError(t, w.ImportCustomAddress(testCustom))

	backup, restored := roundTrip(t, w, testPass)

	require.Empty(t, backup.Mnemonic)
	require.Equal(t, testMaster.PrivateKey, backup.MasterKey)
	require.Equal(t, []string{
		testChains[0].PrivateKey, testChains[1].PrivateKey,
	}, backup.ChainKeys)

	requireSameWallet(t, w, restored)
	_, err := restored.Mnemonic()
	requireCode(t, err, waddrmgr.ErrNoMnemonic)

	// The restored keys are sealed under the restore passphrase.
	require.NoError(t, restored.Lock(testPass))
	require.NoError(t, restored.Unlock(testPass))
	requireCode(t, restored.Lock(wrongPass), waddrmgr.ErrWrongPassphrase)
}

func TestRestoreKeepsImportedAddress(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, nil)
	require.NoError(t, w.ImportCustomAddress(testCustom))

	err := w.Restore(&Backup{
		Mnemonic:          testMnemonic,
		MnemonicExtension: testExtension,
		ChainsCount:       2,
	}, testPass)
	require.NoError(t, err)

	all, err := w.AllAddresses()
	require.NoError(t, err)
	require.Equal(t, append(append([]keychain.Address(nil),
		testChains...), testCustom), all)
}

func TestExportStates(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, nil)
	_, err := w.Export()
	requireCode(t, err, waddrmgr.ErrInvalidState)

	require.NoError(t, w.Generate(testPass))
	require.NoError(t, w.Lock(testPass))
	_, err = w.Export()
	requireCode(t, err, waddrmgr.ErrLocked)
	require.True(t, waddrmgr.IsStateError(err))

	require.NoError(t, w.Unlock(testPass))
	_, err = w.Export()
	require.NoError(t, err)
}

func TestRestoreFailures(t *testing.T) {
	t.Parallel()

	good := &Backup{
		Mnemonic:    testMnemonic,
		ChainsCount: 2,
	}

	// Only an empty wallet can be restored.
	w := newFixtureWallet(t, nil)
	requireCode(t, w.Restore(good, testPass), waddrmgr.ErrInvalidState)

	tests := []struct {
		name       string
		backup     *Backup
		passphrase []byte
		code       waddrmgr.ErrorCode
	}{
		{
			name:       "no keys",
			backup:     &Backup{},
			passphrase: testPass,
			code:       waddrmgr.ErrBackup,
		},
		{
			name: "custom keys only",
			backup: &Backup{
				CustomKeys: []string{testCustom.PrivateKey},
			},
			passphrase: testPass,
			code:       waddrmgr.ErrBackup,
		},
		{
			name: "mnemonic and master key",
			backup: &Backup{
				Mnemonic:    testMnemonic,
				ChainsCount: 1,
				MasterKey:   testMaster.PrivateKey,
			},
			passphrase: testPass,
			code:       waddrmgr.ErrBackup,
		},
		{
			name:       "mnemonic without chains",
			backup:     &Backup{Mnemonic: testMnemonic},
			passphrase: testPass,
			code:       waddrmgr.ErrBackup,
		},
		{
			name: "chain keys without master key",
			backup: &Backup{
				ChainKeys: []string{testChains[0].PrivateKey},
			},
			passphrase: testPass,
			code:       waddrmgr.ErrBackup,
		},
		{
			name: "bad custom key",
			backup: &Backup{
				Mnemonic:    testMnemonic,
				ChainsCount: 1,
				CustomKeys:  []string{"not a key"},
			},
			passphrase: testPass,
			code:       waddrmgr.ErrBackup,
		},
		{
			name: "bad master key",
			backup: &Backup{
				MasterKey: "not a key",
			},
			passphrase: testPass,
			code:       waddrmgr.ErrBackup,
		},
		{
			name:       "empty passphrase",
			backup:     good,
			passphrase: nil,
			code:       waddrmgr.ErrEmptyPassphrase,
		},
		{
			name: "raw keys with empty passphrase",
			backup: &Backup{
				MasterKey: testMaster.PrivateKey,
			},
			passphrase: nil,
			code:       waddrmgr.ErrEmptyPassphrase,
		},
		{
			name: "custom key duplicates a chain",
			backup: &Backup{
				Mnemonic:          testMnemonic,
				MnemonicExtension: testExtension,
				ChainsCount:       1,
				CustomKeys:        []string{testChains[0].PrivateKey},
			},
			passphrase: testPass,
			code:       waddrmgr.ErrDuplicateAddress,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			w := newTestWallet(t, nil)
			err := w.Restore(test.backup, test.passphrase)
			requireCode(t, err, test.code)
			require.Equal(t, StateEmpty, w.State())
		})
	}
}

func TestDeserializeBackupErrors(t *testing.T) {
	t.Parallel()

	backup := &Backup{
		Mnemonic:          testMnemonic,
		MnemonicExtension: testExtension,
		ChainsCount:       2,
		CustomKeys:        []string{testCustom.PrivateKey},
	}
	serialized := backup.Serialize()

	decoded, err := DeserializeBackup(serialized)
	require.NoError(t, err)
	require.Equal(t, backup, decoded)

	// Any flipped byte breaks the checksum.
	for i := range serialized {
		corrupt := append([]byte(nil), serialized...)
		corrupt[i] ^= 0x01
		_, err := DeserializeBackup(corrupt)
		requireCode(t, err, waddrmgr.ErrBackup)
	}

	_, err = DeserializeBackup(serialized[:len(serialized)-1])
	requireCode(t, err, waddrmgr.ErrBackup)
	_, err = DeserializeBackup(nil)
	requireCode(t, err, waddrmgr.ErrBackup)
}

// TestBackupSerializationProperty checks that every valid backup survives
// its serialized form.
func TestBackupSerializationProperty(t *testing.T) {
	t.Parallel()

	keyStrings := rapid.SliceOfN(rapid.StringN(1, 60, -1), 0, 5)

	rapid.Check(t, func(rt *rapid.T) {
		b := &Backup{
			CustomKeys: keyStrings.Draw(rt, "custom"),
		}
		switch rapid.IntRange(0, 1).Draw(rt, "kind") {
		case 0:
			b.Mnemonic = rapid.StringN(1, 200, -1).Draw(rt, "mnemonic")
			b.MnemonicExtension = rapid.StringN(0, 100, -1).Draw(rt, "extension")
			b.ChainsCount = rapid.Uint32Range(1, 1000).Draw(rt, "chains")
		case 1:
			b.MasterKey = rapid.StringN(1, 60, -1).Draw(rt, "master")
			b.ChainKeys = keyStrings.Draw(rt, "chainKeys")
			b.ChainsCount = uint32(len(b.ChainKeys))
		}
		if len(b.CustomKeys) == 0 {
			b.CustomKeys = nil
		}
		if len(b.ChainKeys) == 0 {
			b.ChainKeys = nil
		}

		decoded, err := DeserializeBackup(b.Serialize())
		require.NoError(rt, err)
		require.Equal(rt, b, decoded)
	})
}

// TestRestoreKeysMatchDerivation checks that restoring raw keys rebuilds the
// hashes the key ring derives for them.
func TestRestoreKeysMatchDerivation(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t, nil)
	err := w.Restore(&Backup{
		MasterKey:   testMasterNoExt.PrivateKey,
		ChainKeys:   []string{testChainsNoExt[0].PrivateKey},
		ChainsCount: 1,
		CustomKeys:  []string{testCustom.PrivateKey},
	}, testPass)
	require.NoError(t, err)

	master, err := w.MasterNode()
	require.NoError(t, err)
	require.Equal(t, testMasterNoExt, master)

	all, err := w.AllAddresses()
	require.NoError(t, err)
	require.Equal(t, []keychain.Address{testChainsNoExt[0], testCustom}, all)
	require.NoError(t, w.VerifyAddresses())
}
