package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/abesuite/abec/abelog"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/electra-project/ecawallet/internal/cfgutil"
	"github.com/electra-project/ecawallet/pricefeed"
	"github.com/electra-project/ecawallet/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "ecawallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "ecawallet.log"
	defaultBackupFilename = "backups.db"
	defaultBackupName     = "default"
	defaultRPCPort        = "5788"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("ecawallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for backups and logs"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	FastScrypt  bool                    `long:"fastscrypt" description:"Use weak scrypt parameters, for testing only"`

	// Commands
	Create       bool `long:"create" description:"Create a new wallet and store its backup"`
	Restore      bool `long:"restore" description:"Restore a wallet from a stored backup and show its addresses"`
	Balance      bool `long:"balance" description:"Show the balance and transactions of a stored wallet"`
	Price        bool `long:"price" description:"Show the current ECA price"`
	ListBackups  bool `long:"listbackups" description:"List the stored backups"`
	DeleteBackup bool `long:"deletebackup" description:"Delete the stored backup named by --backupname"`

	// Wallet options
	BackupName string `long:"backupname" description:"Name of the stored backup to create or open"`
	Chains     int    `long:"chains" description:"Number of HD chains of a new wallet"`

	// Chain server options
	RPCConnect string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of electrad RPC server to connect to"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Username for electrad RPC authentication"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for electrad RPC authentication"`
	NoTLS      bool   `long:"noclienttls" description:"Disable TLS for the RPC client"`

	// Price options
	Currency  *cfgutil.CurrencyFlag `long:"currency" description:"ISO 4217 code of the currency prices are shown in"`
	TickerURL string                `long:"tickerurl" description:"URL of the price ticker"`

	// Proxy
	Proxy     string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := abelog.LevelFromString(logLevel)
	return ok
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// defaultConfig returns the configuration holding every default value.
func defaultConfig() config {
	return config{
		DebugLevel: defaultLogLevel,
		ConfigFile: cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir: cfgutil.NewExplicitString(defaultAppDataDir),
		LogDir:     defaultLogDir,
		BackupName: defaultBackupName,
		Chains:     wallet.DefaultChainsCount,
		RPCConnect: "localhost:" + defaultRPCPort,
		Currency:   cfgutil.NewCurrencyFlag(pricefeed.DefaultCurrency),
		TickerURL:  pricefeed.DefaultTickerURL,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in ecawallet functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(args []string) (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = cleanAndExpandPath(configFilePath)
	} else {
		appDataDir := preCfg.AppDataDir.Value
		if appDataDir != defaultAppDataDir {
			configFilePath = filepath.Join(appDataDir, defaultConfigFilename)
		}
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", funcName, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// When the app data directory was changed the log directory follows
	// it unless set explicitly.
	cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)
	if cfg.LogDir == defaultLogDir && cfg.AppDataDir.Value != defaultAppDataDir {
		cfg.LogDir = filepath.Join(cfg.AppDataDir.Value, defaultLogDirname)
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if err := checkCreateDir(cfg.AppDataDir.Value); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Initialize the log rotator and then apply the debug levels.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

// validate checks option values and combinations that go-flags cannot.  It
// also normalizes the RPC server address.
func (cfg *config) validate() error {
	commands := 0
	for _, set := range []bool{
		cfg.Create, cfg.Restore, cfg.Balance, cfg.Price,
		cfg.ListBackups, cfg.DeleteBackup,
	} {
		if set {
			commands++
		}
	}
	switch {
	case commands == 0:
		return fmt.Errorf("no command specified, use one of --create, " +
			"--restore, --balance, --price, --listbackups or " +
			"--deletebackup")
	case commands > 1:
		return fmt.Errorf("only one command may be specified")
	}

	if cfg.Chains < 1 || cfg.Chains > wallet.MaxChainsCount {
		return fmt.Errorf("the number of chains must be between 1 and %d",
			wallet.MaxChainsCount)
	}
	if cfg.BackupName == "" {
		return fmt.Errorf("the backup name must not be empty")
	}

	rpcConnect, err := cfgutil.NormalizeAddress(cfg.RPCConnect, defaultRPCPort)
	if err != nil {
		return fmt.Errorf("invalid rpcconnect network address: %v", err)
	}
	cfg.RPCConnect = rpcConnect

	if cfg.Proxy != "" {
		if _, err := cfgutil.NormalizeAddress(cfg.Proxy, "1080"); err != nil {
			return fmt.Errorf("invalid proxy network address: %v", err)
		}
	}

	return nil
}
