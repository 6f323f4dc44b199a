// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"github.com/coinwatch/coinwatch/chain"
)

// AmountFlag embeds a chain.Amount and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.
type AmountFlag struct {
	chain.Amount
}

// NewAmountFlag creates an AmountFlag with a default chain.Amount.
func NewAmountFlag(defaultValue chain.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return a.Amount.String(), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface. Values are whole
// coin decimals with an optional " XCH" suffix.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	amount, err := chain.ParseAmount(value)
	if err != nil {
		return err
	}
	a.Amount = amount
	return nil
}
