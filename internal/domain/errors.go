package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidAmount is returned for non-positive quantities or quantities
	// finer than AmountPrecision.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidPrice is returned for negative prices or prices finer than PricePrecision.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidSymbol is returned for an empty or oversized token symbol.
	ErrInvalidSymbol = errors.New("invalid token symbol")
	// ErrInvalidOwner is returned when the trade owner is the zero address.
	ErrInvalidOwner = errors.New("invalid owner")
	// ErrInsufficientPosition is returned when a sell exceeds the open quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrInvalidNonce is returned when a signed trade does not carry the owner's
	// next sequence number, e.g. a replayed signature.
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrOutOfRange is returned by indexed getters for an index past the log end.
	ErrOutOfRange = errors.New("index out of range")
)
