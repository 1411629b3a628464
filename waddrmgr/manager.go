package waddrmgr

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"sync"
	"time"

	"github.com/electra-project/ecawallet/internal/zero"
	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/snacl"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// saltSize is the number of bytes of the salt used when hashing
	// private passphrases.
	saltSize = 32
)

// ScryptOptions is used to hold the scrypt parameters needed when deriving new
// passphrase keys.
type ScryptOptions struct {
	N, R, P int
}

// DefaultScryptOptions is the default options used with scrypt.
var DefaultScryptOptions = ScryptOptions{
	N: 262144, // 2^18
	R: 8,
	P: 1,
}

// FastScryptOptions are the scrypt options that should be used for testing
// purposes only where speed is more important than security.
var FastScryptOptions = ScryptOptions{
	N: 16,
	R: 8,
	P: 1,
}

// SecretKeyGenerator is the function signature of a method that can generate
// secret keys for the address manager.
type SecretKeyGenerator func(
	passphrase *[]byte, config *ScryptOptions) (*snacl.SecretKey, error)

// defaultNewSecretKey returns a new secret key.  See newSecretKey.
func defaultNewSecretKey(passphrase *[]byte,
	config *ScryptOptions) (*snacl.SecretKey, error) {
	return snacl.NewSecretKey(passphrase, config.N, config.R, config.P)
}

var (
	// secretKeyGen is the inner method that is executed when calling
	// newSecretKey.
	secretKeyGen = defaultNewSecretKey

	// secretKeyGenMtx protects access to secretKeyGen, so that it can be
	// replaced in testing.
	secretKeyGenMtx sync.RWMutex
)

// SetSecretKeyGen replaces the existing secret key generator, and returns the
// previous generator.
func SetSecretKeyGen(keyGen SecretKeyGenerator) SecretKeyGenerator {
	secretKeyGenMtx.Lock()
	oldKeyGen := secretKeyGen
	secretKeyGen = keyGen
	secretKeyGenMtx.Unlock()

	return oldKeyGen
}

// newSecretKey generates a new secret key using the active secretKeyGen.
func newSecretKey(passphrase *[]byte, config *ScryptOptions) (*snacl.SecretKey, error) {
	secretKeyGenMtx.RLock()
	defer secretKeyGenMtx.RUnlock()
	return secretKeyGen(passphrase, config)
}

// HDSecrets are the secrets installed together with an HD key set.
type HDSecrets struct {
	// Mnemonic is only set when the mnemonic was generated by the wallet
	// and may therefore be read back.
	Mnemonic []byte

	// MnemonicExtension is the optional extension mixed into the seed.
	MnemonicExtension []byte

	// Passphrase is the wallet passphrase.  Only its salted hash is kept.
	Passphrase []byte
}

// Manager holds the keys of a wallet in memory: the master node, the chain
// addresses, the imported custom addresses and the mnemonic secrets.  All
// private material can be sealed under a key derived from the wallet
// passphrase with Lock and opened again with Unlock.
type Manager struct {
	mtx sync.RWMutex

	clock clock.Clock

	// generation is bumped on every mutation so that the two phases of
	// Lock and Unlock can detect a concurrent change.
	generation uint64

	populated bool
	locked    bool
	birthday  time.Time

	master            *managedAddress
	chains            []*managedAddress
	custom            []*managedAddress
	hashes            map[string]*managedAddress
	mnemonic          *sealedSecret
	mnemonicExtension *sealedSecret

	// masterKeyPriv is the secret key derived from the passphrase that
	// seals every secret while locked.  Only its parameters survive the
	// lock; the key itself is zeroed.
	masterKeyPriv *snacl.SecretKey

	// privPassphraseSalt and hashedPrivPassphrase allow for the secure
	// detection of a correct passphrase on lock.  The hash is zeroed each
	// lock.
	privPassphraseSalt   [saltSize]byte
	hashedPrivPassphrase [sha512.Size]byte
}

// New returns an empty address manager.  Birthdays are stamped with clk.
func New(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Manager{
		clock:  clk,
		hashes: make(map[string]*managedAddress),
	}
}

// PopulateHD installs an HD key set into an empty manager.  Custom addresses
// imported beforehand are kept and follow the chains.  The manager keeps
// private copies of every secret, so the caller may zero its own buffers.
func (m *Manager) PopulateHD(master keychain.Address, chains []keychain.Address,
	secrets *HDSecrets) error {

	if len(secrets.Passphrase) == 0 {
		return managerError(ErrEmptyPassphrase, "passphrase is empty",
			nil)
	}

	var passphraseSalt [saltSize]byte
	if _, err := rand.Read(passphraseSalt[:]); err != nil {
		str := "failed to read random source for passphrase salt"
		return managerError(ErrCrypto, str, err)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.populated {
		return managerError(ErrAlreadyExists, errAlreadyExists, nil)
	}

	hashes := make(map[string]*managedAddress, len(chains)+len(m.custom)+1)
	for _, addr := range m.custom {
		hashes[addr.hash] = addr
	}

	// On failure only the copies made here are wiped, the custom
	// addresses stay imported.
	var installed []*managedAddress
	add := func(addr *managedAddress) error {
		if held, ok := hashes[addr.hash]; ok {
			for _, a := range installed {
				a.privKey.wipe()
			}
			addr.privKey.wipe()

			str := fmt.Sprintf("%v %d duplicates address %s",
				addr.addrType, addr.index, addr.hash)
			if held.addrType == Custom {
				return managerError(ErrDuplicateAddress, str, nil)
			}
			return managerError(ErrKeyChain, str, nil)
		}
		installed = append(installed, addr)
		hashes[addr.hash] = addr
		return nil
	}

	masterAddr := newManagedAddress(MasterNode, 0, master)
	if err := add(masterAddr); err != nil {
		return err
	}
	chainAddrs := make([]*managedAddress, 0, len(chains))
	for i, addr := range chains {
		chainAddr := newManagedAddress(Chain, uint32(i), addr)
		if err := add(chainAddr); err != nil {
			return err
		}
		chainAddrs = append(chainAddrs, chainAddr)
	}

	m.master = masterAddr
	m.chains = chainAddrs
	m.hashes = hashes
	if secrets.Mnemonic != nil {
		m.mnemonic = newSealedSecret(secrets.Mnemonic)
	}
	if secrets.MnemonicExtension != nil {
		m.mnemonicExtension = newSealedSecret(secrets.MnemonicExtension)
	}
	m.setPassphrase(passphraseSalt, secrets.Passphrase)
	m.birthday = m.clock.Now()
	m.populated = true
	m.generation++

	log.Infof("Installed HD key set with %d chain(s) and %d custom "+
		"address(es)", len(chains), len(m.custom))

	return nil
}

// ImportAddress appends a custom address.  Importing into an empty manager
// leaves it empty: the address is held until PopulateHD installs a key set
// next to it, or Wipe drops it.  Imports are refused while locked since the
// private key could not be sealed.
func (m *Manager) ImportAddress(addr keychain.Address) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.locked {
		return managerError(ErrLocked, errLocked, nil)
	}
	if _, ok := m.hashes[addr.Hash]; ok {
		str := fmt.Sprintf("address %s is already held", addr.Hash)
		return managerError(ErrDuplicateAddress, str, nil)
	}

	customAddr := newManagedAddress(Custom, uint32(len(m.custom)), addr)
	m.custom = append(m.custom, customAddr)
	m.hashes[addr.Hash] = customAddr
	m.generation++

	log.Debugf("Imported custom address %s", addr.Hash)

	return nil
}

// setPassphrase records the salted hash of the passphrase.
//
// This function MUST be called with the manager lock held for writes.
func (m *Manager) setPassphrase(salt [saltSize]byte, passphrase []byte) {
	m.privPassphraseSalt = salt
	m.hashedPrivPassphrase = hashPassphrase(salt, passphrase)
}

// hashPassphrase returns sha512(salt || passphrase).
func hashPassphrase(salt [saltSize]byte, passphrase []byte) [sha512.Size]byte {
	saltedPassphrase := make([]byte, 0, saltSize+len(passphrase))
	saltedPassphrase = append(saltedPassphrase, salt[:]...)
	saltedPassphrase = append(saltedPassphrase, passphrase...)
	hashed := sha512.Sum512(saltedPassphrase)
	zero.Bytes(saltedPassphrase)
	return hashed
}

// secrets returns every secret held by the manager in a stable order.
//
// This function MUST be called with the manager lock held.
func (m *Manager) secrets() []*sealedSecret {
	secrets := make([]*sealedSecret, 0, len(m.chains)+len(m.custom)+3)
	if m.master != nil {
		secrets = append(secrets, m.master.privKey)
	}
	for _, addr := range m.chains {
		secrets = append(secrets, addr.privKey)
	}
	for _, addr := range m.custom {
		secrets = append(secrets, addr.privKey)
	}
	if m.mnemonic != nil {
		secrets = append(secrets, m.mnemonic)
	}
	if m.mnemonicExtension != nil {
		secrets = append(secrets, m.mnemonicExtension)
	}
	return secrets
}

// Lock seals every private key and mnemonic secret with a key derived from the
// passphrase and zeroes the clear text.  Address hashes stay readable.
//
// The key derivation is deliberately expensive.  It runs while holding only
// the read lock, so readers keep observing the unlocked state until the
// sealed secrets are committed in one step.
func (m *Manager) Lock(passphrase []byte, config *ScryptOptions) error {
	if len(passphrase) == 0 {
		return managerError(ErrEmptyPassphrase, "passphrase is empty",
			nil)
	}

	m.mtx.RLock()
	if !m.populated {
		m.mtx.RUnlock()
		return managerError(ErrInvalidState, errEmpty, nil)
	}
	if m.locked {
		m.mtx.RUnlock()
		return managerError(ErrInvalidState, errLocked, nil)
	}
	if hashPassphrase(m.privPassphraseSalt, passphrase) != m.hashedPrivPassphrase {
		m.mtx.RUnlock()
		str := "invalid passphrase for master private key"
		return managerError(ErrWrongPassphrase, str, nil)
	}
	generation := m.generation

	masterKey, sealed, err := m.sealSecrets(passphrase, config)
	m.mtx.RUnlock()
	if err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.generation != generation {
		masterKey.Zero()
		str := "address manager changed while locking"
		return managerError(ErrInvalidState, str, nil)
	}

	for i, secret := range m.secrets() {
		secret.lock(sealed[i])
	}

	m.lock(masterKey)
	return nil
}

// sealSecrets derives a fresh master private key and seals every secret with
// it.  Nothing in the manager is modified.
//
// This function MUST be called with the manager lock held for reads.
func (m *Manager) sealSecrets(passphrase []byte, config *ScryptOptions) (
	*snacl.SecretKey, [][]byte, error) {

	masterKey, err := newSecretKey(&passphrase, config)
	if err != nil {
		str := "failed to create master private key"
		return nil, nil, managerError(ErrCrypto, str, err)
	}

	secrets := m.secrets()
	sealed := make([][]byte, 0, len(secrets))
	for _, secret := range secrets {
		encrypted, err := secret.seal(masterKey)
		if err != nil {
			masterKey.Zero()
			str := "failed to encrypt private key"
			return nil, nil, managerError(ErrCrypto, str, err)
		}
		sealed = append(sealed, encrypted)
	}

	return masterKey, sealed, nil
}

// lock zeroes the clear text master private key, keeping its parameters so
// the key can be derived again on unlock.
//
// This function MUST be called with the manager lock held for writes.
func (m *Manager) lock(masterKey *snacl.SecretKey) {
	masterKey.Zero()
	m.masterKeyPriv = masterKey

	// Zero the hashed passphrase.
	zero.Bytea64(&m.hashedPrivPassphrase)

	m.locked = true
	m.generation++

	log.Infof("Address manager locked")
}

// Unlock derives the master private key from the passphrase and opens every
// sealed secret.  A wrong passphrase, or any secret that fails
// authentication, returns ErrWrongPassphrase and leaves the manager locked
// with no clear text retained.
func (m *Manager) Unlock(passphrase []byte) error {
	m.mtx.RLock()
	if !m.populated {
		m.mtx.RUnlock()
		return managerError(ErrInvalidState, errEmpty, nil)
	}
	if !m.locked {
		m.mtx.RUnlock()
		return managerError(ErrInvalidState, errNotLocked, nil)
	}
	generation := m.generation

	opened, err := m.openSecrets(passphrase)
	m.mtx.RUnlock()
	if err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.generation != generation {
		for _, clearText := range opened {
			zero.Bytes(clearText)
		}
		str := "address manager changed while unlocking"
		return managerError(ErrInvalidState, str, nil)
	}

	for i, secret := range m.secrets() {
		secret.unlock(opened[i])
	}

	m.hashedPrivPassphrase = hashPassphrase(m.privPassphraseSalt, passphrase)
	m.locked = false
	m.generation++

	log.Infof("Address manager unlocked")

	return nil
}

// openSecrets derives the master private key and decrypts every secret.
// Nothing in the manager is modified.  On failure every clear text produced
// so far is zeroed.
//
// This function MUST be called with the manager lock held for reads.
func (m *Manager) openSecrets(passphrase []byte) ([][]byte, error) {
	// Derive into a copy of the key so the shared parameters are never
	// altered.
	secretKey := snacl.SecretKey{
		Key:        &snacl.CryptoKey{},
		Parameters: m.masterKeyPriv.Parameters,
	}
	defer secretKey.Zero()

	if err := secretKey.DeriveKey(&passphrase); err != nil {
		if err == snacl.ErrInvalidPassword {
			str := "invalid passphrase for master private key"
			return nil, managerError(ErrWrongPassphrase, str, nil)
		}

		str := "failed to derive master private key"
		return nil, managerError(ErrCrypto, str, err)
	}

	secrets := m.secrets()
	opened := make([][]byte, 0, len(secrets))
	for _, secret := range secrets {
		clearText, err := secret.open(&secretKey)
		if err != nil {
			for _, ct := range opened {
				zero.Bytes(ct)
			}
			str := "sealed secret failed authentication"
			return nil, managerError(ErrWrongPassphrase, str, err)
		}
		opened = append(opened, clearText)
	}

	return opened, nil
}

// Wipe zeroes and drops every key and secret, returning the manager to its
// empty state.
func (m *Manager) Wipe() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, secret := range m.secrets() {
		secret.wipe()
	}
	if m.masterKeyPriv != nil {
		m.masterKeyPriv.Zero()
	}

	m.master = nil
	m.chains = nil
	m.custom = nil
	m.hashes = make(map[string]*managedAddress)
	m.mnemonic = nil
	m.mnemonicExtension = nil
	m.masterKeyPriv = nil
	zero.Bytea32(&m.privPassphraseSalt)
	zero.Bytea64(&m.hashedPrivPassphrase)
	m.birthday = time.Time{}
	m.populated = false
	m.locked = false
	m.generation++

	log.Infof("Address manager wiped")
}

// Status returns whether the manager holds a key set and whether it is
// locked, observed atomically.  Custom addresses imported into an empty
// manager do not make it populated.
func (m *Manager) Status() (populated, locked bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.populated, m.locked
}

// Birthday returns the time the keys were installed.
func (m *Manager) Birthday() time.Time {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.birthday
}

// exportAddrs exports a list of managed addresses.
//
// This function MUST be called with the manager lock held for reads.
func (m *Manager) exportAddrs(addrs []*managedAddress) []keychain.Address {
	exported := make([]keychain.Address, 0, len(addrs))
	for _, addr := range addrs {
		exported = append(exported, addr.export(m.locked))
	}
	return exported
}

// AddressSet is a view of the held addresses together with the status they
// were read under.
type AddressSet struct {
	Populated bool
	HD        bool
	Locked    bool
	Chains    []keychain.Address
	Custom    []keychain.Address
}

// All returns the chain addresses followed by the custom addresses.
func (s *AddressSet) All() []keychain.Address {
	all := make([]keychain.Address, 0, len(s.Chains)+len(s.Custom))
	all = append(all, s.Chains...)
	return append(all, s.Custom...)
}

// AddressSet returns the chain and custom addresses and the manager status,
// observed atomically.
func (m *Manager) AddressSet() *AddressSet {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return &AddressSet{
		Populated: m.populated,
		HD:        m.master != nil,
		Locked:    m.locked,
		Chains:    m.exportAddrs(m.chains),
		Custom:    m.exportAddrs(m.custom),
	}
}

// MasterNode returns the master node address.  The private key is empty while
// locked.
func (m *Manager) MasterNode() (keychain.Address, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if m.master == nil {
		str := "address manager holds no master node"
		return keychain.Address{}, managerError(ErrInvalidState, str, nil)
	}
	return m.master.export(m.locked), nil
}

// Mnemonic returns the wallet generated mnemonic.
func (m *Manager) Mnemonic() (string, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if !m.populated {
		return "", managerError(ErrInvalidState, errEmpty, nil)
	}
	if m.mnemonic == nil {
		str := "mnemonic was supplied by the caller and is not held"
		return "", managerError(ErrNoMnemonic, str, nil)
	}
	if m.locked {
		return "", managerError(ErrLocked, errLocked, nil)
	}
	return m.mnemonic.string(), nil
}

// Snapshot is a consistent copy of the keys of an unlocked manager.
type Snapshot struct {
	Birthday          time.Time
	Master            *keychain.Address
	Chains            []keychain.Address
	Custom            []keychain.Address
	Mnemonic          string
	HasMnemonic       bool
	MnemonicExtension string
}

// Snapshot returns a consistent copy of every key and secret.  It fails with
// ErrLocked while locked.
func (m *Manager) Snapshot() (*Snapshot, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if !m.populated {
		return nil, managerError(ErrInvalidState, errEmpty, nil)
	}
	if m.locked {
		return nil, managerError(ErrLocked, errLocked, nil)
	}

	snapshot := &Snapshot{
		Birthday: m.birthday,
		Chains:   m.exportAddrs(m.chains),
		Custom:   m.exportAddrs(m.custom),
	}
	if m.master != nil {
		master := m.master.export(false)
		snapshot.Master = &master
	}
	if m.mnemonic != nil {
		snapshot.Mnemonic = m.mnemonic.string()
		snapshot.HasMnemonic = true
	}
	if m.mnemonicExtension != nil {
		snapshot.MnemonicExtension = m.mnemonicExtension.string()
	}
	return snapshot, nil
}

// Lookup returns the type and index of the held address with the given hash.
func (m *Manager) Lookup(hash string) (AddressType, uint32, bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	addr, ok := m.hashes[hash]
	if !ok {
		return 0, 0, false
	}
	return addr.addrType, addr.index, true
}
