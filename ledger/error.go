// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific StoreError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the StoreError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the ledger is
	// incorrect.  This may be due to missing values, values of wrong
	// sizes, or data from different buckets that is inconsistent with
	// itself.
	ErrData

	// ErrCoinNotFound indicates that the requested coin is not tracked for
	// the address.
	ErrCoinNotFound

	// ErrInvalidStatus indicates that a coin status outside of the known
	// set was passed in.
	ErrInvalidStatus
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:      "ErrDatabase",
	ErrData:          "ErrData",
	ErrCoinNotFound:  "ErrCoinNotFound",
	ErrInvalidStatus: "ErrInvalidStatus",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// StoreError provides a single type for errors that can happen during ledger
// operation.
type StoreError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e StoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e StoreError) Unwrap() error {
	return e.Err
}

// storeError creates a StoreError given a set of arguments.
func storeError(c ErrorCode, desc string, err error) StoreError {
	return StoreError{ErrorCode: c, Description: desc, Err: err}
}

// NewError creates a StoreError. It is used by ledger implementations living
// outside this package.
func NewError(c ErrorCode, desc string, err error) StoreError {
	return storeError(c, desc, err)
}

// IsError reports whether err is a StoreError with the given code.
func IsError(err error, code ErrorCode) bool {
	var serr StoreError
	if !errors.As(err, &serr) {
		return false
	}

	return serr.ErrorCode == code
}
