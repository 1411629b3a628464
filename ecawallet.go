package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/electra-project/ecawallet/chain"
	"github.com/electra-project/ecawallet/pricefeed"
	"github.com/electra-project/ecawallet/wallet"
)

var (
	cfg *config
)

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version %s", version())

	ctx, cancel := interruptContext()
	defer cancel()

	switch {
	case cfg.Create:
		err = createWallet(cfg)
	case cfg.Restore:
		err = restoreWallet(cfg)
	case cfg.Balance:
		err = showBalance(ctx, cfg)
	case cfg.Price:
		err = showPrice(ctx, cfg)
	case cfg.ListBackups:
		err = listBackups(cfg)
	case cfg.DeleteBackup:
		err = deleteBackup(cfg)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		log.Errorf("%v", err)
	}

	return err
}

// showBalance restores the configured backup and shows the balance and the
// transactions of its addresses as reported by the chain server.
func showBalance(ctx context.Context, cfg *config) error {
	client, err := chain.NewRPCClient(&chain.RPCConfig{
		Host:       cfg.RPCConnect,
		User:       cfg.RPCUser,
		Pass:       cfg.RPCPass,
		DisableTLS: cfg.NoTLS,
		Proxy:      cfg.Proxy,
		ProxyUser:  cfg.ProxyUser,
		ProxyPass:  cfg.ProxyPass,
	})
	if err != nil {
		return err
	}

	db, err := openBackupDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	w, err := openWallet(cfg, db, &wallet.Config{
		Balance:      client,
		Transactions: client,
	})
	if err != nil {
		return err
	}

	if err := client.Start(); err != nil {
		return err
	}
	defer func() {
		client.Stop()
		client.WaitForShutdown()
	}()

	balance, err := w.GetBalance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Balance: %.6f ECA\n", balance)

	if _, err := w.RefreshTransactions(ctx); err != nil {
		return err
	}
	addrs, err := w.AllAddresses()
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		txs, err := w.AddressTransactions(addr.Hash)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			continue
		}
		fmt.Printf("%s:\n", addr.Hash)
		for _, tx := range txs {
			fmt.Printf("  %s %s %+.6f ECA (%d confirmations)\n",
				tx.Received.Format("2006-01-02 15:04:05"),
				tx.TxID, tx.Amount, tx.Confirmations)
		}
	}

	pending, err := w.UnconfirmedTransactions()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Printf("%d transaction(s) awaiting confirmation\n",
			len(pending))
	}

	return nil
}

// showPrice shows the current price of one ECA in the configured currency.
func showPrice(ctx context.Context, cfg *config) error {
	ticker, err := pricefeed.NewTicker(&pricefeed.TickerConfig{
		URL:       cfg.TickerURL,
		Proxy:     cfg.Proxy,
		ProxyUser: cfg.ProxyUser,
		ProxyPass: cfg.ProxyPass,
	})
	if err != nil {
		return err
	}

	w := wallet.New(&wallet.Config{Prices: ticker})
	price, err := w.GetCurrentPriceIn(ctx, cfg.Currency.Code)
	if err != nil {
		return err
	}
	fmt.Printf("1 ECA = %v %s\n", price, cfg.Currency.Code)

	return nil
}
