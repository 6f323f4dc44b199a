// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

// ExplicitString is a string option that remembers whether it was set by a
// config file or the command line, so defaults derived from other options can
// be applied only to untouched values.
type ExplicitString struct {
	Value string
	set   bool
}

// NewExplicitString creates an ExplicitString holding defaultValue.
func NewExplicitString(defaultValue string) *ExplicitString {
	return &ExplicitString{Value: defaultValue}
}

// ExplicitlySet reports whether UnmarshalFlag was called.
func (e *ExplicitString) ExplicitlySet() bool {
	return e.set
}

// MarshalFlag implements flags.Marshaler.
func (e *ExplicitString) MarshalFlag() (string, error) {
	return e.Value, nil
}

// UnmarshalFlag implements flags.Unmarshaler.
func (e *ExplicitString) UnmarshalFlag(value string) error {
	e.Value = value
	e.set = true

	return nil
}
