package models

import "errors"

// Error taxonomy shared by the ledger, wallet and permit layers.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrNotAuthorized           = errors.New("not authorized")
	ErrNotFound                = errors.New("not found")
	ErrChainIntegrityViolation = errors.New("ledger chain integrity violation")
	ErrSystemLocked            = errors.New("system locked")
	ErrUnsupportedCurrencyPair = errors.New("unsupported currency pair")
	ErrFeeExceedsTotal         = errors.New("fees exceed total amount")
	ErrTermsNotAccepted        = errors.New("platform terms not accepted")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrGatewayDisabled         = errors.New("payment gateway disabled")
	ErrInvalidInput            = errors.New("invalid input")
	ErrDuplicateEmail          = errors.New("email already registered")
)
