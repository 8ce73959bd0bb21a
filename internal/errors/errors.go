// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidAllocationInput = errors.New("invalid allocation input")
	ErrStaleMarketData        = errors.New("stale market data")
	ErrDataFetchTimeout       = errors.New("market data fetch timed out")
	ErrLedgerInvariant        = errors.New("ledger invariant violation")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionExists         = errors.New("position already open")
	ErrPositionClosing        = errors.New("position already closing")
	ErrCapExceeded            = errors.New("capital cap exceeded")
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrSchedulerStopped       = errors.New("scheduler stopped")
	ErrPublishFailed          = errors.New("event publication failed")
)

// AllocationError reports why capital allocation was rejected.
type AllocationError struct {
	Symbol    string
	Capital   float64
	Positions int
	Reason    string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation rejected [%s]: %s (capital: %.2f, positions: %d)",
		e.Symbol, e.Reason, e.Capital, e.Positions)
}

func (e *AllocationError) Unwrap() error {
	return ErrInvalidAllocationInput
}

// NewAllocationError creates a new AllocationError.
func NewAllocationError(symbol string, capital float64, positions int, reason string) *AllocationError {
	return &AllocationError{
		Symbol:    symbol,
		Capital:   capital,
		Positions: positions,
		Reason:    reason,
	}
}

// StaleDataError indicates an unusable market snapshot for a symbol.
type StaleDataError struct {
	Symbol string
	Price  float64
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale market data [%s]: unusable price %v", e.Symbol, e.Price)
}

func (e *StaleDataError) Unwrap() error {
	return ErrStaleMarketData
}

// NewStaleDataError creates a new StaleDataError.
func NewStaleDataError(symbol string, price float64) *StaleDataError {
	return &StaleDataError{Symbol: symbol, Price: price}
}

// InvariantError reports a rejected ledger mutation. It indicates a
// logic bug upstream and is logged as a serious error, but the process
// continues with the previous state retained.
type InvariantError struct {
	Symbol    string
	Invariant string
	Current   float64
	Proposed  float64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violation [%s] %s (current: %.4f, proposed: %.4f)",
		e.Symbol, e.Invariant, e.Current, e.Proposed)
}

func (e *InvariantError) Unwrap() error {
	return ErrLedgerInvariant
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(symbol, invariant string, current, proposed float64) *InvariantError {
	return &InvariantError{
		Symbol:    symbol,
		Invariant: invariant,
		Current:   current,
		Proposed:  proposed,
	}
}

// CapError reports a portfolio cap breach detected at insertion time.
type CapError struct {
	Symbol   string
	Cap      string
	Current  float64
	Limit    float64
	Proposed float64
}

func (e *CapError) Error() string {
	return fmt.Sprintf("cap breach [%s] %s: proposed %.2f would take exposure to %.2f (limit %.2f)",
		e.Symbol, e.Cap, e.Proposed, e.Current+e.Proposed, e.Limit)
}

func (e *CapError) Unwrap() error {
	return ErrCapExceeded
}

// NewCapError creates a new CapError.
func NewCapError(symbol, cap string, current, limit, proposed float64) *CapError {
	return &CapError{
		Symbol:   symbol,
		Cap:      cap,
		Current:  current,
		Limit:    limit,
		Proposed: proposed,
	}
}

// DataError represents a market-data retrieval failure for a batch.
type DataError struct {
	Symbols []string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error (%d symbols): %s: %v", len(e.Symbols), e.Message, e.Err)
	}
	return fmt.Sprintf("data error (%d symbols): %s", len(e.Symbols), e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(symbols []string, message string, err error) *DataError {
	return &DataError{Symbols: symbols, Message: message, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
