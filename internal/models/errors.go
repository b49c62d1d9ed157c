package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrZeroAmount      = errors.New("zero amount")
	ErrNoSellToken     = errors.New("no eligible sell token")
	ErrInvalidDecision = errors.New("invalid decision")
	ErrEmptyLedger     = errors.New("ledger is empty")
)

// DataError reports a malformed or unusable numeric field in ledger or
// chain data.
type DataError struct {
	Field string
	Value string
	Err   error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error: %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }
