package wallet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/abesuite/abec/chainhash"
	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/waddrmgr"
)

const (
	// backupVersion is the current version of the serialized backup.
	backupVersion = 1

	// checksumSize is the size of the double sha256 checksum trailing a
	// serialized backup.
	checksumSize = chainhash.HashSize

	// maxBackupString bounds the length of one serialized string.
	maxBackupString = 1 << 12
)

// Backup holds what is needed to rebuild a wallet.  An HD wallet whose
// mnemonic was generated by the wallet is backed up by its mnemonic, any
// other HD wallet by the private keys of its master node and chains.  The
// private keys of custom addresses are always included.  Address hashes are
// not stored, they are derived again from the private keys on Restore.
type Backup struct {
	Mnemonic          string
	MnemonicExtension string
	ChainsCount       uint32

	MasterKey  string
	ChainKeys  []string
	CustomKeys []string
}

// validate checks that the backup describes exactly one kind of key set.
func (b *Backup) validate() error {
	switch {
	case b.Mnemonic != "" && b.MasterKey != "":
		return waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup holds both a mnemonic and a master key", nil)

	case b.Mnemonic != "" && len(b.ChainKeys) != 0:
		return waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup holds both a mnemonic and chain keys", nil)

	case b.Mnemonic != "" && b.ChainsCount == 0:
		return waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup of a mnemonic has no chains", nil)

	case b.MasterKey == "" && len(b.ChainKeys) != 0:
		return waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup holds chain keys without a master key", nil)

	case b.Mnemonic == "" && b.MasterKey == "":
		return waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup holds neither a mnemonic nor a master key", nil)
	}
	return nil
}

// serializeSize returns the number of bytes needed to serialize the backup.
func (b *Backup) serializeSize() int {
	size := 1 + 4 + len(b.Mnemonic) + 4 + len(b.MnemonicExtension) + 4 +
		4 + len(b.MasterKey) + 4 + 4 + checksumSize
	for _, key := range b.ChainKeys {
		size += 4 + len(key)
	}
	for _, key := range b.CustomKeys {
		size += 4 + len(key)
	}
	return size
}

// Serialize encodes the backup.  The format is:
//
//	<version><mnemonic><extension><chains count><master key>
//	<num chain keys><chain keys><num custom keys><custom keys><checksum>
//
// Strings are prefixed by their 4 byte length, counts take 4 bytes, all
// big endian.  The checksum is the double sha256 of everything before it.
func (b *Backup) Serialize() []byte {
	res := make([]byte, b.serializeSize())
	offset := 0

	putString := func(s string) {
		binary.BigEndian.PutUint32(res[offset:offset+4], uint32(len(s)))
		offset += 4
		copy(res[offset:offset+len(s)], s)
		offset += len(s)
	}
	putUint32 := func(v uint32) {
		binary.BigEndian.PutUint32(res[offset:offset+4], v)
		offset += 4
	}

	res[offset] = backupVersion
	offset++
	putString(b.Mnemonic)
	putString(b.MnemonicExtension)
	putUint32(b.ChainsCount)
	putString(b.MasterKey)
	putUint32(uint32(len(b.ChainKeys)))
	for _, key := range b.ChainKeys {
		putString(key)
	}
	putUint32(uint32(len(b.CustomKeys)))
	for _, key := range b.CustomKeys {
		putString(key)
	}

	copy(res[offset:], chainhash.DoubleHashB(res[:offset]))

	return res
}

// backupReader decodes the fields of a serialized backup.
type backupReader struct {
	buf    []byte
	offset int
	err    error
}

func (r *backupReader) uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf)-r.offset < 4 {
		r.err = fmt.Errorf("truncated at offset %d", r.offset)
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.offset : r.offset+4])
	r.offset += 4
	return v
}

func (r *backupReader) string() string {
	n := r.uint32()
	if r.err != nil {
		return ""
	}
	if n > maxBackupString || int(n) > len(r.buf)-r.offset {
		r.err = fmt.Errorf("bad string length %d at offset %d", n,
			r.offset-4)
		return ""
	}
	s := string(r.buf[r.offset : r.offset+int(n)])
	r.offset += int(n)
	return s
}

func (r *backupReader) strings() []string {
	n := r.uint32()
	if r.err != nil {
		return nil
	}

	// Every string takes at least its length prefix.
	if int(n) > (len(r.buf)-r.offset)/4 {
		r.err = fmt.Errorf("bad count %d at offset %d", n, r.offset-4)
		return nil
	}
	var strs []string
	for i := uint32(0); i < n && r.err == nil; i++ {
		strs = append(strs, r.string())
	}
	return strs
}

// DeserializeBackup decodes a backup produced by Serialize.  A bad checksum
// or a malformed encoding returns ErrBackup.
func DeserializeBackup(serialized []byte) (*Backup, error) {
	if len(serialized) < 1+checksumSize {
		return nil, waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup is too short", nil)
	}

	body := serialized[:len(serialized)-checksumSize]
	checksum := serialized[len(serialized)-checksumSize:]
	if !bytes.Equal(chainhash.DoubleHashB(body), checksum) {
		return nil, waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup checksum mismatch", nil)
	}
	if body[0] != backupVersion {
		return nil, waddrmgr.Errorf(waddrmgr.ErrBackup,
			"unsupported backup version %d", body[0])
	}

	r := &backupReader{buf: body, offset: 1}
	b := &Backup{
		Mnemonic:          r.string(),
		MnemonicExtension: r.string(),
		ChainsCount:       r.uint32(),
		MasterKey:         r.string(),
		ChainKeys:         r.strings(),
		CustomKeys:        r.strings(),
	}
	if r.err == nil && r.offset != len(body) {
		r.err = fmt.Errorf("%d trailing bytes", len(body)-r.offset)
	}
	if r.err != nil {
		return nil, waddrmgr.NewError(waddrmgr.ErrBackup,
			"malformed backup", r.err)
	}

	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Export returns a backup of the wallet.  It is only permitted while ready:
// an empty wallet fails with ErrInvalidState and a locked wallet with
// ErrLocked, since a locked wallet cannot produce the secrets.
func (w *Wallet) Export() (*Backup, error) {
	snapshot, err := w.Manager.Snapshot()
	if err != nil {
		return nil, err
	}

	b := &Backup{ChainsCount: uint32(len(snapshot.Chains))}
	if snapshot.HasMnemonic {
		b.Mnemonic = snapshot.Mnemonic
		b.MnemonicExtension = snapshot.MnemonicExtension
	} else {
		b.MasterKey = snapshot.Master.PrivateKey
		for _, addr := range snapshot.Chains {
			b.ChainKeys = append(b.ChainKeys, addr.PrivateKey)
		}
	}
	for _, addr := range snapshot.Custom {
		b.CustomKeys = append(b.CustomKeys, addr.PrivateKey)
	}

	log.Infof("Exported wallet backup (mnemonic=%v, %d custom "+
		"address(es))", b.Mnemonic != "", len(b.CustomKeys))

	return b, nil
}

// addressFromKey rebuilds an address from its private key.
func (w *Wallet) addressFromKey(privKey string) (keychain.Address, error) {
	hash, err := w.keyRing.AddressHashFromPrivateKey(privKey)
	if err != nil {
		return keychain.Address{}, waddrmgr.NewError(waddrmgr.ErrBackup,
			"backup holds an unusable private key", err)
	}
	return keychain.Address{Hash: hash, PrivateKey: privKey}, nil
}

// Restore rebuilds an empty wallet from a backup and moves it to
// StateReady.  The passphrase must be the one the backed up wallet was
// generated with.  On failure the wallet stays empty; a failure after the
// keys were installed wipes them together with any custom address imported
// before the restore.
func (w *Wallet) Restore(b *Backup, passphrase []byte) error {
	if err := b.validate(); err != nil {
		return err
	}

	w.opMtx.Lock()
	defer w.opMtx.Unlock()

	if w.State() != StateEmpty {
		return waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletNotEmpty, nil)
	}

	// Rebuild every custom address first so a bad key fails the restore
	// before anything is installed.
	custom := make([]keychain.Address, 0, len(b.CustomKeys))
	for _, key := range b.CustomKeys {
		addr, err := w.addressFromKey(key)
		if err != nil {
			return err
		}
		custom = append(custom, addr)
	}

	switch {
	case b.Mnemonic != "":
		opts := newGenerateOptions([]GenerateOption{
			WithMnemonic(b.Mnemonic),
			WithMnemonicExtension(b.MnemonicExtension),
			WithChainsCount(int(b.ChainsCount)),
		})
		err := w.generate(passphrase, opts, true)
		if err != nil {
			return err
		}

	default:
		if len(passphrase) == 0 {
			return waddrmgr.NewError(waddrmgr.ErrEmptyPassphrase,
				"passphrase is empty", nil)
		}

		master, err := w.addressFromKey(b.MasterKey)
		if err != nil {
			return err
		}
		chains := make([]keychain.Address, 0, len(b.ChainKeys))
		for _, key := range b.ChainKeys {
			addr, err := w.addressFromKey(key)
			if err != nil {
				return err
			}
			chains = append(chains, addr)
		}

		err = w.Manager.PopulateHD(master, chains, &waddrmgr.HDSecrets{
			Passphrase: passphrase,
		})
		if err != nil {
			return err
		}
	}

	for _, addr := range custom {
		if err := w.Manager.ImportAddress(addr); err != nil {
			w.Manager.Wipe()
			return err
		}
	}

	log.Infof("Restored wallet from backup (mnemonic=%v, %d custom "+
		"address(es))", b.Mnemonic != "", len(custom))

	return nil
}
