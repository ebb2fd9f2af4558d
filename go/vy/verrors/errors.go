/*
Copyright 2026 The Voyager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package verrors provides the single tagged error value used across the
// query layer. Every error carries a Code and a reason string; the code
// survives wrapping so the command layer can map any failure to its
// document form.
package verrors

import (
	"errors"
	"fmt"
)

// New returns an error with the given code and reason.
func New(code Code, reason string) error {
	return &fundamental{
		code:   code,
		reason: reason,
	}
}

// Errorf formats according to a format specifier and returns the string
// as a value that satisfies error tagged with the given code.
func Errorf(code Code, format string, args ...any) error {
	return &fundamental{
		code:   code,
		reason: fmt.Sprintf(format, args...),
	}
}

// Wrap annotates err with a new message. If err is nil, Wrap returns nil.
// The innermost tagged code is preserved.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrapping{
		cause:  err,
		reason: message,
	}
}

// Wrapf annotates err with the format specifier. If err is nil, Wrapf
// returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapping{
		cause:  err,
		reason: fmt.Sprintf(format, args...),
	}
}

// ErrCode returns the error code of err. A nil error maps to OK; an error
// that carries no code anywhere in its chain maps to Unknown.
func ErrCode(err error) Code {
	if err == nil {
		return OK
	}
	var f *fundamental
	if errors.As(err, &f) {
		return f.code
	}
	return Unknown
}

// fundamental is an error with a code and a reason.
type fundamental struct {
	code   Code
	reason string
}

func (f *fundamental) Error() string { return f.reason }

// wrapping is an error annotating a cause with extra context. Its code is
// the cause's code.
type wrapping struct {
	cause  error
	reason string
}

func (w *wrapping) Error() string { return w.reason + ": " + w.cause.Error() }
func (w *wrapping) Unwrap() error { return w.cause }
