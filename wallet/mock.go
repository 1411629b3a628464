package wallet

import (
	"context"
	"sync"

	"github.com/electra-project/ecawallet/chain"
	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/pricefeed"
	"github.com/electra-project/ecawallet/wtxmgr"
)

type mockChainClient struct {
	mtx sync.Mutex

	balances map[string]float64
	txs      []wtxmgr.TxRecord
	err      error

	// shareTxs returns txs itself instead of a copy.
	shareTxs bool

	// block, when set, holds every lookup until it is closed.
	block chan struct{}

	queried [][]string
}

var _ chain.Interface = (*mockChainClient)(nil)

func (m *mockChainClient) Start() error {
	return nil
}

func (m *mockChainClient) Stop() {
}

func (m *mockChainClient) WaitForShutdown() {}

func (m *mockChainClient) BackEnd() string {
	return "mock"
}

func (m *mockChainClient) lookup(ctx context.Context, hashes []string) error {
	m.mtx.Lock()
	m.queried = append(m.queried, append([]string(nil), hashes...))
	block := m.block
	m.mtx.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *mockChainClient) GetBalance(ctx context.Context, hashes []string) (float64, error) {
	if err := m.lookup(ctx, hashes); err != nil {
		return 0, err
	}

	var total float64
	for _, hash := range hashes {
		total += m.balances[hash]
	}
	return total, nil
}

func (m *mockChainClient) GetTransactions(ctx context.Context,
	hashes []string) ([]wtxmgr.TxRecord, error) {

	if err := m.lookup(ctx, hashes); err != nil {
		return nil, err
	}
	if m.shareTxs {
		return m.txs, nil
	}
	return append([]wtxmgr.TxRecord(nil), m.txs...), nil
}

type mockPriceSource struct {
	prices map[string]float64
	err    error
}

var _ pricefeed.PriceSource = (*mockPriceSource)(nil)

func (m *mockPriceSource) CurrentPriceIn(_ context.Context, currency string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	code, err := pricefeed.NormalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	return m.prices[code], nil
}

// mockKeyRing wraps a key ring and lets a test break single operations.
type mockKeyRing struct {
	keychain.KeyRing

	generateErr error
	seedErr     error
	deriveErr   error

	// corruptChain, when non-negative, makes the hash of that chain
	// index disagree with its private key.
	corruptChain int
}

var _ keychain.KeyRing = (*mockKeyRing)(nil)

func newMockKeyRing() *mockKeyRing {
	return &mockKeyRing{
		KeyRing:      keychain.NewElectraKeyRing(nil),
		corruptChain: -1,
	}
}

func (m *mockKeyRing) GenerateMnemonic() (string, error) {
	if m.generateErr != nil {
		return "", m.generateErr
	}
	return m.KeyRing.GenerateMnemonic()
}

func (m *mockKeyRing) MnemonicToSeed(mnemonic, extension string,
	passphrase []byte) ([]byte, error) {

	if m.seedErr != nil {
		return nil, m.seedErr
	}
	return m.KeyRing.MnemonicToSeed(mnemonic, extension, passphrase)
}

func (m *mockKeyRing) DeriveChainAddress(seed []byte, index uint32) (*keychain.Address, error) {
	if m.deriveErr != nil {
		return nil, m.deriveErr
	}
	addr, err := m.KeyRing.DeriveChainAddress(seed, index)
	if err != nil {
		return nil, err
	}
	if int(index) == m.corruptChain {
		addr.Hash = "E" + addr.Hash[1:len(addr.Hash)-1] + "x"
	}
	return addr, nil
}
