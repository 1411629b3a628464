package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/electra-project/ecawallet/chain"
	"github.com/electra-project/ecawallet/internal/zero"
	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/pricefeed"
	"github.com/electra-project/ecawallet/waddrmgr"
	"github.com/electra-project/ecawallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultChainsCount is the number of chains derived when Generate
	// is not asked for a specific number.
	DefaultChainsCount = 1

	// MaxChainsCount bounds the number of chains derived by Generate.
	MaxChainsCount = 1 << 16
)

// State is the lifecycle state of a wallet.
type State uint8

const (
	// StateEmpty is the initial state.  No keys or secrets are held.
	StateEmpty State = iota

	// StateReady means keys are held and every private key is readable.
	StateReady

	// StateLocked means keys are held but private keys and mnemonic
	// secrets are only kept sealed under the passphrase.
	StateLocked
)

// String returns the State as a human-readable name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateReady:
		return "READY"
	case StateLocked:
		return "LOCKED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

func stateOf(populated, locked bool) State {
	switch {
	case !populated:
		return StateEmpty
	case locked:
		return StateLocked
	default:
		return StateReady
	}
}

var (
	errWalletEmpty     = "wallet holds no keys"
	errWalletLocked    = "wallet is locked"
	errWalletNotEmpty  = "wallet already holds keys"
	errWalletNotLocked = "wallet is not locked"
)

// Config holds the collaborators of a wallet.
type Config struct {
	// KeyRing derives the wallet keys.  The Electra key ring is used when
	// nil.
	KeyRing keychain.KeyRing

	// Balance answers GetBalance.
	Balance chain.BalanceSource

	// Transactions answers RefreshTransactions.
	Transactions chain.TransactionSource

	// Prices answers GetCurrentPriceIn.
	Prices pricefeed.PriceSource

	// ScryptOptions are used to derive the key sealing the secrets on
	// Lock.  waddrmgr.DefaultScryptOptions are used when nil.
	ScryptOptions *waddrmgr.ScryptOptions

	Clock clock.Clock
}

// Wallet is the lifecycle state machine of an HD wallet.  It owns the
// address manager holding the keys and the transaction records of the held
// addresses.
//
// Operations changing the state are serialized.  Accessors never wait for
// them: while Lock or Unlock derive their key, readers keep observing the
// previous state.
type Wallet struct {
	// opMtx serializes Generate, Reset, Lock, Unlock, ImportCustomAddress,
	// Restore and the commit of RefreshTransactions.
	opMtx sync.Mutex

	keyRing      keychain.KeyRing
	balance      chain.BalanceSource
	transactions chain.TransactionSource
	prices       pricefeed.PriceSource
	scrypt       waddrmgr.ScryptOptions

	Manager *waddrmgr.Manager
	TxStore *wtxmgr.Store
}

// New returns an empty wallet.
func New(cfg *Config) *Wallet {
	keyRing := cfg.KeyRing
	if keyRing == nil {
		keyRing = keychain.NewElectraKeyRing(nil)
	}
	scrypt := waddrmgr.DefaultScryptOptions
	if cfg.ScryptOptions != nil {
		scrypt = *cfg.ScryptOptions
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Wallet{
		keyRing:      keyRing,
		balance:      cfg.Balance,
		transactions: cfg.Transactions,
		prices:       cfg.Prices,
		scrypt:       scrypt,
		Manager:      waddrmgr.New(clk),
		TxStore:      wtxmgr.NewStore(clk),
	}
}

// State returns the current lifecycle state.
func (w *Wallet) State() State {
	populated, locked := w.Manager.Status()
	return stateOf(populated, locked)
}

type generateOptions struct {
	mnemonic          string
	mnemonicExtension string
	chainsCount       int
}

// GenerateOption modifies the behavior of Generate.
type GenerateOption func(*generateOptions)

// WithMnemonic derives the keys from mnemonic instead of a freshly generated
// one.  A supplied mnemonic is not readable through Mnemonic.
func WithMnemonic(mnemonic string) GenerateOption {
	return func(o *generateOptions) {
		o.mnemonic = mnemonic
	}
}

// WithMnemonicExtension mixes ext into the seed together with the
// passphrase.
func WithMnemonicExtension(ext string) GenerateOption {
	return func(o *generateOptions) {
		o.mnemonicExtension = ext
	}
}

// WithChainsCount derives n chains instead of DefaultChainsCount.  n must be
// in [1, MaxChainsCount].
func WithChainsCount(n int) GenerateOption {
	return func(o *generateOptions) {
		o.chainsCount = n
	}
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		chainsCount: DefaultChainsCount,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Generate derives the master node and the chains from the mnemonic and the
// passphrase and moves an empty wallet to StateReady.  Custom addresses
// imported while empty are kept after the chains.  On failure the wallet
// stays empty.
func (w *Wallet) Generate(passphrase []byte, opts ...GenerateOption) error {
	options := newGenerateOptions(opts)

	w.opMtx.Lock()
	defer w.opMtx.Unlock()

	return w.generate(passphrase, options, options.mnemonic == "")
}

// generate implements Generate.  The mnemonic is kept readable when
// keepMnemonic is set.
//
// This function MUST be called with the wallet op lock held.
func (w *Wallet) generate(passphrase []byte, opts *generateOptions,
	keepMnemonic bool) error {

	if w.State() != StateEmpty {
		return waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletNotEmpty, nil)
	}
	if len(passphrase) == 0 {
		return waddrmgr.NewError(waddrmgr.ErrEmptyPassphrase,
			"passphrase is empty", nil)
	}

	chainsCount := opts.chainsCount
	if chainsCount < 1 || chainsCount > MaxChainsCount {
		return waddrmgr.Errorf(waddrmgr.ErrInvalidChainsCount,
			"chains count %d is not in [1, %d]", chainsCount,
			MaxChainsCount)
	}

	mnemonic := opts.mnemonic
	if mnemonic == "" {
		var err error
		mnemonic, err = w.keyRing.GenerateMnemonic()
		if err != nil {
			return waddrmgr.NewError(waddrmgr.ErrCollaborator,
				"failed to generate mnemonic", err)
		}
	} else if !w.keyRing.ValidateMnemonic(mnemonic) {
		return waddrmgr.NewError(waddrmgr.ErrInvalidMnemonic,
			"mnemonic has unknown words or a bad checksum", nil)
	}

	seed, err := w.keyRing.MnemonicToSeed(
		mnemonic, opts.mnemonicExtension, passphrase,
	)
	if err != nil {
		if errors.Is(err, keychain.ErrInvalidMnemonic) {
			return waddrmgr.NewError(waddrmgr.ErrInvalidMnemonic,
				"mnemonic has unknown words or a bad checksum",
				err)
		}
		return waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"failed to compute seed", err)
	}
	defer zero.Bytes(seed)

	master, chains, err := w.deriveKeySet(seed, chainsCount)
	if err != nil {
		return err
	}

	secrets := &waddrmgr.HDSecrets{Passphrase: passphrase}
	if keepMnemonic {
		secrets.Mnemonic = []byte(mnemonic)
	}
	if opts.mnemonicExtension != "" {
		secrets.MnemonicExtension = []byte(opts.mnemonicExtension)
	}
	if err := w.Manager.PopulateHD(*master, chains, secrets); err != nil {
		return err
	}

	log.Infof("Generated HD wallet with %d chain(s), master node %s",
		chainsCount, master.Hash)

	return nil
}

// deriveKeySet derives the master node and chains 0..count-1 and checks
// every derived hash against its private key.
func (w *Wallet) deriveKeySet(seed []byte, count int) (*keychain.Address,
	[]keychain.Address, error) {

	master, err := w.keyRing.DeriveMasterNode(seed)
	if err != nil {
		return nil, nil, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"failed to derive master node", err)
	}
	if err := w.verifyAddress(*master); err != nil {
		return nil, nil, err
	}

	chains := make([]keychain.Address, 0, count)
	for i := 0; i < count; i++ {
		addr, err := w.keyRing.DeriveChainAddress(seed, uint32(i))
		if err != nil {
			str := fmt.Sprintf("failed to derive chain %d", i)
			return nil, nil, waddrmgr.NewError(
				waddrmgr.ErrCollaborator, str, err,
			)
		}
		if err := w.verifyAddress(*addr); err != nil {
			return nil, nil, err
		}
		chains = append(chains, *addr)
	}

	return master, chains, nil
}

// verifyAddress checks that the hash of addr belongs to its private key.
func (w *Wallet) verifyAddress(addr keychain.Address) error {
	hash, err := w.keyRing.AddressHashFromPrivateKey(addr.PrivateKey)
	if err != nil {
		str := fmt.Sprintf("private key of %s is not usable", addr.Hash)
		return waddrmgr.NewError(waddrmgr.ErrKeyChain, str, err)
	}
	if hash != addr.Hash {
		return waddrmgr.Errorf(waddrmgr.ErrKeyChain,
			"private key of %s belongs to %s", addr.Hash, hash)
	}
	return nil
}

// Reset wipes every key, secret and transaction record and moves the wallet
// back to StateEmpty.
func (w *Wallet) Reset() error {
	w.opMtx.Lock()
	defer w.opMtx.Unlock()

	if w.State() == StateEmpty {
		return waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	}

	w.Manager.Wipe()
	w.TxStore.Clear()

	log.Infof("Wallet reset")

	return nil
}

// Lock seals every private key and mnemonic secret under the passphrase.
// The passphrase must be the one given to Generate.
//
// The key derivation cannot be cancelled.
func (w *Wallet) Lock(passphrase []byte) error {
	w.opMtx.Lock()
	defer w.opMtx.Unlock()

	switch w.State() {
	case StateEmpty:
		return waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	case StateLocked:
		return waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletLocked, nil)
	}

	return w.Manager.Lock(passphrase, &w.scrypt)
}

// Unlock opens the sealed secrets.  A wrong passphrase returns
// ErrWrongPassphrase and leaves the wallet locked.
func (w *Wallet) Unlock(passphrase []byte) error {
	w.opMtx.Lock()
	defer w.opMtx.Unlock()

	switch w.State() {
	case StateEmpty:
		return waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	case StateReady:
		return waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletNotLocked, nil)
	}

	return w.Manager.Unlock(passphrase)
}

type importOptions struct {
	verify bool
}

// ImportOption modifies the behavior of ImportCustomAddress.
type ImportOption func(*importOptions)

// WithVerification checks that the imported hash belongs to the imported
// private key.
func WithVerification() ImportOption {
	return func(o *importOptions) {
		o.verify = true
	}
}

// ImportCustomAddress adds a caller supplied key pair.  Importing into an
// empty wallet leaves it in StateEmpty: the pair is held until Generate
// installs the chains in front of it.  Imports are refused with ErrLocked
// while locked.
func (w *Wallet) ImportCustomAddress(addr keychain.Address,
	opts ...ImportOption) error {

	var options importOptions
	for _, opt := range opts {
		opt(&options)
	}

	if addr.Hash == "" || addr.PrivateKey == "" {
		return waddrmgr.NewError(waddrmgr.ErrKeyChain,
			"address hash and private key are required", nil)
	}

	w.opMtx.Lock()
	defer w.opMtx.Unlock()

	if w.State() == StateLocked {
		return waddrmgr.NewError(waddrmgr.ErrLocked, errWalletLocked,
			nil)
	}
	if options.verify {
		if err := w.verifyAddress(addr); err != nil {
			return err
		}
	}

	return w.Manager.ImportAddress(addr)
}

// addressSet returns the held addresses, failing when the wallet is empty.
func (w *Wallet) addressSet() (*waddrmgr.AddressSet, error) {
	set := w.Manager.AddressSet()
	if !set.Populated {
		return nil, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	}
	return set, nil
}

// Addresses returns the chain addresses in index order.  Private keys are
// empty while locked.
func (w *Wallet) Addresses() ([]keychain.Address, error) {
	set, err := w.addressSet()
	if err != nil {
		return nil, err
	}
	return set.Chains, nil
}

// CustomAddresses returns the imported addresses in import order.  Private
// keys are empty while locked.
func (w *Wallet) CustomAddresses() ([]keychain.Address, error) {
	set, err := w.addressSet()
	if err != nil {
		return nil, err
	}
	return set.Custom, nil
}

// AllAddresses returns the chain addresses followed by the custom addresses.
// Private keys are empty while locked.
func (w *Wallet) AllAddresses() ([]keychain.Address, error) {
	set, err := w.addressSet()
	if err != nil {
		return nil, err
	}
	return set.All(), nil
}

// MasterNode returns the master node.  The private key is empty while
// locked.
func (w *Wallet) MasterNode() (keychain.Address, error) {
	return w.Manager.MasterNode()
}

// IsHD returns whether the wallet was generated from a mnemonic.
func (w *Wallet) IsHD() (bool, error) {
	set, err := w.addressSet()
	if err != nil {
		return false, err
	}
	return set.HD, nil
}

// IsLocked returns whether the wallet is locked.
func (w *Wallet) IsLocked() (bool, error) {
	populated, locked := w.Manager.Status()
	if !populated {
		return false, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	}
	return locked, nil
}

// Mnemonic returns the mnemonic generated by the wallet.  It fails with
// ErrNoMnemonic when the mnemonic was supplied to Generate, and with
// ErrLocked while locked.
func (w *Wallet) Mnemonic() (string, error) {
	return w.Manager.Mnemonic()
}

// Birthday returns the time the keys were installed.
func (w *Wallet) Birthday() (time.Time, error) {
	if w.State() == StateEmpty {
		return time.Time{}, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	}
	return w.Manager.Birthday(), nil
}

// Transactions returns the transaction records fetched by
// RefreshTransactions.
func (w *Wallet) Transactions() ([]wtxmgr.TxRecord, error) {
	if w.State() == StateEmpty {
		return nil, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	}
	return w.TxStore.Records(), nil
}

// AddressTransactions returns the transaction records of one address.
func (w *Wallet) AddressTransactions(hash string) ([]wtxmgr.TxRecord, error) {
	if w.State() == StateEmpty {
		return nil, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	}
	return w.TxStore.RecordsForAddress(hash), nil
}

// UnconfirmedTransactions returns the transaction records that are not mined
// yet.
func (w *Wallet) UnconfirmedTransactions() ([]wtxmgr.TxRecord, error) {
	if w.State() == StateEmpty {
		return nil, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletEmpty, nil)
	}
	return w.TxStore.Unconfirmed(), nil
}

// readyHashes returns the hashes of every held address of a ready wallet.
func (w *Wallet) readyHashes() ([]string, error) {
	set, err := w.addressSet()
	if err != nil {
		return nil, err
	}
	if set.Locked {
		return nil, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			errWalletLocked, nil)
	}

	all := set.All()
	hashes := make([]string, 0, len(all))
	for _, addr := range all {
		hashes = append(hashes, addr.Hash)
	}
	return hashes, nil
}

// GetBalance returns the summed balance of every held address in ECA.  The
// addresses are captured when the call is made, so a concurrent Reset does
// not affect a query in flight.
func (w *Wallet) GetBalance(ctx context.Context) (float64, error) {
	hashes, err := w.readyHashes()
	if err != nil {
		return 0, err
	}
	if w.balance == nil {
		return 0, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"no balance source configured", nil)
	}

	balance, err := w.balance.GetBalance(ctx, hashes)
	if err != nil {
		return 0, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"balance lookup failed", err)
	}

	log.Debugf("Balance of %d address(es): %v ECA", len(hashes), balance)

	return balance, nil
}

// GetCurrentPriceIn returns the price of one ECA in the currency, USD when
// empty.  It does not depend on the wallet state.
func (w *Wallet) GetCurrentPriceIn(ctx context.Context, currency string) (float64, error) {
	if w.prices == nil {
		return 0, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"no price source configured", nil)
	}

	price, err := w.prices.CurrentPriceIn(ctx, currency)
	if err != nil {
		return 0, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"price lookup failed", err)
	}
	return price, nil
}

// RefreshTransactions fetches the transactions of every held address and
// records them.  It returns the number of new records.  Records of addresses
// dropped while the lookup was in flight are discarded.
func (w *Wallet) RefreshTransactions(ctx context.Context) (int, error) {
	hashes, err := w.readyHashes()
	if err != nil {
		return 0, err
	}
	if w.transactions == nil {
		return 0, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"no transaction source configured", nil)
	}

	recs, err := w.transactions.GetTransactions(ctx, hashes)
	if err != nil {
		return 0, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"transaction lookup failed", err)
	}

	w.opMtx.Lock()
	defer w.opMtx.Unlock()

	if w.State() == StateEmpty {
		return 0, waddrmgr.NewError(waddrmgr.ErrInvalidState,
			"wallet was reset during the transaction lookup", nil)
	}

	held := make([]wtxmgr.TxRecord, 0, len(recs))
	for _, rec := range recs {
		if _, _, ok := w.Manager.Lookup(rec.Address); ok {
			held = append(held, rec)
		}
	}

	n, err := w.TxStore.InsertTxs(held...)
	if err != nil {
		return 0, waddrmgr.NewError(waddrmgr.ErrCollaborator,
			"transaction source returned bad records", err)
	}

	log.Infof("Refreshed transactions: %d new of %d", n, len(held))

	return n, nil
}

// VerifyAddresses checks that the hash of every held address, including the
// master node, belongs to its private key.
func (w *Wallet) VerifyAddresses() error {
	snapshot, err := w.Manager.Snapshot()
	if err != nil {
		return err
	}

	addrs := make([]keychain.Address, 0,
		len(snapshot.Chains)+len(snapshot.Custom)+1)
	if snapshot.Master != nil {
		addrs = append(addrs, *snapshot.Master)
	}
	addrs = append(addrs, snapshot.Chains...)
	addrs = append(addrs, snapshot.Custom...)

	for _, addr := range addrs {
		if err := w.verifyAddress(addr); err != nil {
			return err
		}
	}
	return nil
}
