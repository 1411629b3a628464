package waddrmgr

import (
	"fmt"
	"strconv"
)

var (
	// errAlreadyExists is the common error description used for the
	// ErrAlreadyExists error code.
	errAlreadyExists = "the specified address manager already exists"

	// errEmpty is the common error description used for the
	// ErrInvalidState error code when no keys are held.
	errEmpty = "address manager holds no keys"

	// errLocked is the common error description used for the ErrLocked
	// error code.
	errLocked = "address manager is locked"

	// errNotLocked is the common error description used when an unlock
	// is requested of an unlocked manager.
	errNotLocked = "address manager is not locked"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific ManagerError.
const (
	// ErrInvalidState indicates the requested operation is not permitted
	// in the current lifecycle state.
	ErrInvalidState ErrorCode = iota

	// ErrLocked indicates that an operation, which requires the address
	// manager to be unlocked, was requested on a locked address manager.
	ErrLocked

	// ErrAlreadyExists indicates that keys are already held and must be
	// wiped before new ones can be installed.
	ErrAlreadyExists

	// ErrWrongPassphrase indicates that the specified passphrase is
	// incorrect, or that sealed secrets failed authentication.
	ErrWrongPassphrase

	// ErrEmptyPassphrase indicates that the private passphrase was refused
	// due to being empty.
	ErrEmptyPassphrase

	// ErrCrypto indicates an error with the cryptography related
	// operations such as decrypting or encrypting data, parsing an EC
	// public key, or deriving a secret key from a password.
	ErrCrypto

	// ErrKeyChain indicates an error with the key chain collaborator,
	// such as a derived address hash that does not match its private key.
	ErrKeyChain

	// ErrInvalidMnemonic indicates a mnemonic with unknown words or a bad
	// checksum.
	ErrInvalidMnemonic

	// ErrInvalidChainsCount indicates a non-positive number of chains.
	ErrInvalidChainsCount

	// ErrDuplicateAddress indicates that an imported address hash is
	// already held by the manager.
	ErrDuplicateAddress

	// ErrNoMnemonic indicates that the mnemonic is not readable because
	// it was supplied by the caller.
	ErrNoMnemonic

	// ErrCollaborator indicates a failure of an external service such as
	// the balance or price source.
	ErrCollaborator

	// ErrBackup indicates a malformed or corrupted wallet backup.
	ErrBackup
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidState:       "ErrInvalidState",
	ErrLocked:             "ErrLocked",
	ErrAlreadyExists:      "ErrAlreadyExists",
	ErrWrongPassphrase:    "ErrWrongPassphrase",
	ErrEmptyPassphrase:    "ErrEmptyPassphrase",
	ErrCrypto:             "ErrCrypto",
	ErrKeyChain:           "ErrKeyChain",
	ErrInvalidMnemonic:    "ErrInvalidMnemonic",
	ErrInvalidChainsCount: "ErrInvalidChainsCount",
	ErrDuplicateAddress:   "ErrDuplicateAddress",
	ErrNoMnemonic:         "ErrNoMnemonic",
	ErrCollaborator:       "ErrCollaborator",
	ErrBackup:             "ErrBackup",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return "Unknown ErrorCode (" + strconv.Itoa(int(e)) + ")"
}

// ManagerError provides a single type for errors that can happen during
// address manager and wallet operation.  It is used to indicate several types
// of failures including errors with caller requests such as invalid
// passphrases or operations in the wrong lifecycle state, errors with the
// underlying cryptography, and failures of external collaborators.
//
// The caller can use type assertions to determine if an error is a
// ManagerError and access the ErrorCode field to ascertain the specific reason
// for the failure.
//
// The ErrCrypto, ErrKeyChain and ErrCollaborator error codes will also have
// the Err field set with the underlying error.
type ManagerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ManagerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e ManagerError) Unwrap() error {
	return e.Err
}

// managerError creates a ManagerError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) ManagerError {
	return ManagerError{ErrorCode: c, Description: desc, Err: err}
}

// NewError creates a ManagerError for use by packages layered on top of the
// address manager.
func NewError(c ErrorCode, desc string, err error) ManagerError {
	return managerError(c, desc, err)
}

// Errorf is like NewError with a formatted description and no underlying
// error.
func Errorf(c ErrorCode, format string, args ...interface{}) ManagerError {
	return managerError(c, fmt.Sprintf(format, args...), nil)
}

// IsError returns whether the error is a ManagerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	e, ok := err.(ManagerError)
	return ok && e.ErrorCode == code
}

// IsStateError returns whether the error reports an operation attempted in the
// wrong lifecycle state.  Refusals caused by a locked manager count as such.
func IsStateError(err error) bool {
	return IsError(err, ErrInvalidState) || IsError(err, ErrLocked)
}
