package chain

import (
	"context"

	"github.com/electra-project/ecawallet/wtxmgr"
)

// BackEnds returns a list of the available back ends.
// When there are more than one backend, it should transfer
// into a driver and use dynamic registration.
func BackEnds() []string {
	return []string{
		"electrad",
	}
}

// BalanceSource reports the confirmed balance of a set of addresses.
type BalanceSource interface {
	// GetBalance returns the summed balance of the addresses in ECA.
	GetBalance(ctx context.Context, hashes []string) (float64, error)
}

// TransactionSource reports the transactions touching a set of addresses.
type TransactionSource interface {
	// GetTransactions returns one record per transaction and address.
	GetTransactions(ctx context.Context, hashes []string) ([]wtxmgr.TxRecord, error)
}

// Interface allows more than one backing blockchain source, as long as we
// write a driver for it.
type Interface interface {
	BalanceSource
	TransactionSource

	Start() error
	Stop()
	WaitForShutdown()
	BackEnd() string
}
