package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/electra-project/ecawallet/backupdb"
	"github.com/electra-project/ecawallet/internal/prompt"
	"github.com/electra-project/ecawallet/internal/zero"
	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/waddrmgr"
	"github.com/electra-project/ecawallet/wallet"
)

// scryptOptions returns the key derivation parameters used for wallet and
// backup passphrases.
func (cfg *config) scryptOptions() *waddrmgr.ScryptOptions {
	if cfg.FastScrypt {
		return &waddrmgr.FastScryptOptions
	}
	return &waddrmgr.DefaultScryptOptions
}

// openBackupDB opens the backup file in the application data directory.
func openBackupDB(cfg *config) (*backupdb.DB, error) {
	dbPath := filepath.Join(cfg.AppDataDir.Value, defaultBackupFilename)
	return backupdb.Open(dbPath, cfg.scryptOptions(), nil)
}

// createWallet prompts the user for the information needed to generate a new
// wallet, generates it and stores its backup under the configured name.
func createWallet(cfg *config) error {
	db, err := openBackupDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Fail before the user spends time on the prompts.
	_, err = db.Stat(cfg.BackupName)
	switch {
	case err == nil:
		return fmt.Errorf("a backup named %q already exists",
			cfg.BackupName)
	case !errors.Is(err, backupdb.ErrNotFound):
		return err
	}

	keyRing := keychain.NewElectraKeyRing(nil)
	reader := bufio.NewReader(os.Stdin)

	passphrase, err := prompt.NewPassphrase()
	if err != nil {
		return err
	}
	defer zero.Bytes(passphrase)

	// An existing mnemonic is used as given, otherwise the wallet
	// generates one which the user must then write down.
	mnemonic, extension, err := prompt.Mnemonic(
		reader, keyRing.ValidateMnemonic,
	)
	if err != nil {
		return err
	}

	fmt.Println("Creating the wallet...")
	w := wallet.New(&wallet.Config{
		KeyRing:       keyRing,
		ScryptOptions: cfg.scryptOptions(),
	})
	opts := []wallet.GenerateOption{
		wallet.WithMnemonicExtension(extension),
		wallet.WithChainsCount(cfg.Chains),
	}
	if mnemonic != "" {
		opts = append(opts, wallet.WithMnemonic(mnemonic))
	}
	if err := w.Generate(passphrase, opts...); err != nil {
		return err
	}

	if mnemonic == "" {
		generated, err := w.Mnemonic()
		if err != nil {
			return err
		}
		if err := prompt.ShowMnemonic(reader, generated); err != nil {
			return err
		}
	}

	backup, err := w.Export()
	if err != nil {
		return err
	}
	err = db.Put(cfg.BackupName, backup.Serialize(), passphrase)
	if err != nil {
		return err
	}

	if err := printAddresses(w); err != nil {
		return err
	}
	fmt.Printf("The wallet has been created successfully and backed up "+
		"as %q.\n", cfg.BackupName)

	return nil
}

// openWallet prompts for the passphrase of the configured backup and restores
// a wallet with the given collaborators from it.
func openWallet(cfg *config, db *backupdb.DB,
	walletCfg *wallet.Config) (*wallet.Wallet, error) {

	passphrase, err := prompt.Passphrase(fmt.Sprintf("Enter the "+
		"passphrase of backup %q", cfg.BackupName))
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(passphrase)

	payload, err := db.Fetch(cfg.BackupName, passphrase)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(payload)

	backup, err := wallet.DeserializeBackup(payload)
	if err != nil {
		return nil, err
	}

	walletCfg.ScryptOptions = cfg.scryptOptions()
	w := wallet.New(walletCfg)
	if err := w.Restore(backup, passphrase); err != nil {
		return nil, err
	}

	return w, nil
}

// restoreWallet restores the configured backup, checks every key it holds
// and shows the addresses.
func restoreWallet(cfg *config) error {
	db, err := openBackupDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	w, err := openWallet(cfg, db, &wallet.Config{})
	if err != nil {
		return err
	}
	if err := w.VerifyAddresses(); err != nil {
		return err
	}

	return printAddresses(w)
}

// listBackups shows the name and creation time of every stored backup.
func listBackups(cfg *config) error {
	db, err := openBackupDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	infos, err := db.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No backups stored")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%-32s %s\n", info.Name,
			info.Created.Format("2006-01-02 15:04:05 MST"))
	}

	return nil
}

// deleteBackup removes the configured backup after asking the user.
func deleteBackup(cfg *config) error {
	db, err := openBackupDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Stat(cfg.BackupName); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	ok, err := prompt.Confirm(reader, fmt.Sprintf("Delete backup %q? "+
		"The wallet cannot be restored from it afterwards.",
		cfg.BackupName))
	if err != nil || !ok {
		return err
	}

	return db.Delete(cfg.BackupName)
}

// printAddresses shows every address of the wallet, the master node of an HD
// wallet first.
func printAddresses(w *wallet.Wallet) error {
	hd, err := w.IsHD()
	if err != nil {
		return err
	}
	if hd {
		master, err := w.MasterNode()
		if err != nil {
			return err
		}
		fmt.Printf("master  %s\n", master.Hash)
	}

	chains, err := w.Addresses()
	if err != nil {
		return err
	}
	for i, addr := range chains {
		fmt.Printf("chain %d %s\n", i, addr.Hash)
	}

	custom, err := w.CustomAddresses()
	if err != nil {
		return err
	}
	for _, addr := range custom {
		fmt.Printf("custom  %s\n", addr.Hash)
	}

	return nil
}

// checkCreateDir checks that the path exists and is a directory.
// If path does not exist, it is created.
func checkCreateDir(path string) error {
	if fi, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			// Attempt data directory creation
			if err = os.MkdirAll(path, 0700); err != nil {
				return fmt.Errorf("cannot create directory: %s", err)
			}
		} else {
			return fmt.Errorf("error checking directory: %s", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("path '%s' is not a directory", path)
		}
	}

	return nil
}
