package ca

import "errors"

var (
	// ErrConfigFileNotSet and ErrPasswordFileNotSet are returned before any
	// tool invocation when the CA configuration is incomplete.
	ErrConfigFileNotSet   = errors.New("no OpenSSL config file set")
	ErrPasswordFileNotSet = errors.New("no OpenSSL password file set")

	ErrCNNotFound       = errors.New("CN not found in the CSR")
	ErrIdentityMismatch = errors.New("CN does not match the device name")
)
