package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abesuite/abec/abelog"
	"github.com/electra-project/ecawallet/backupdb"
	"github.com/electra-project/ecawallet/chain"
	"github.com/electra-project/ecawallet/keychain"
	"github.com/electra-project/ecawallet/pricefeed"
	"github.com/electra-project/ecawallet/waddrmgr"
	"github.com/electra-project/ecawallet/wallet"
	"github.com/electra-project/ecawallet/wtxmgr"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsytem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.  The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences will
	// occur.
	backendLog = abelog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	log       = backendLog.Logger("ECAW")
	walletLog = backendLog.Logger("WLLT")
	amgrLog   = backendLog.Logger("AMGR")
	tmgrLog   = backendLog.Logger("TMGR")
	kchnLog   = backendLog.Logger("KCHN")
	chainLog  = backendLog.Logger("CHNS")
	priceLog  = backendLog.Logger("PRCE")
	backupLog = backendLog.Logger("BKDB")
)

// Initialize package-global logger variables.
func init() {
	wallet.UseLogger(walletLog)
	waddrmgr.UseLogger(amgrLog)
	wtxmgr.UseLogger(tmgrLog)
	keychain.UseLogger(kchnLog)
	chain.UseLogger(chainLog)
	pricefeed.UseLogger(priceLog)
	backupdb.UseLogger(backupLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]abelog.Logger{
	"ECAW": log,
	"WLLT": walletLog,
	"AMGR": amgrLog,
	"TMGR": tmgrLog,
	"KCHN": kchnLog,
	"CHNS": chainLog,
	"PRCE": priceLog,
	"BKDB": backupLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	logRotator = r
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.  Uninitialized subsystems are dynamically created as
// needed.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := abelog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.  It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
func setLogLevels(logLevel string) {
	// Configure all sub-systems with the new logging level.  Dynamically
	// create loggers as needed.
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
