/*
Copyright 2026 The Kvgate Authors.

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

// Package kverrors provides errors that carry an ErrorCode, so that callers of the
// resolver, the connection registry and the caches can tell retryable
// conditions (the backend is away, a lock is contended) from permanent ones
// (the table does not exist, the request is malformed).
//
// Errors are created with New or Errorf and annotated with Wrap or Wrapf.
// Wrapping keeps the code of the wrapped error. Code walks the Unwrap chain
// and returns the outermost code it finds, or Unknown.
package kverrors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an error.
type ErrorCode int

// All the error codes.
const (
	OK ErrorCode = iota
	Unknown
	InvalidArgument
	NotFound
	FailedPrecondition
	// ResourceExhausted is used when a caller lost a race for a contended
	// resource, such as the per-cluster connect lock. It is retryable, but
	// callers may want a different backoff than for Unavailable.
	ResourceExhausted
	Unavailable
	Internal
)

var codeNames = map[ErrorCode]string{
	OK:                 "OK",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	NotFound:           "NOT_FOUND",
	FailedPrecondition: "FAILED_PRECONDITION",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	Unavailable:        "UNAVAILABLE",
	Internal:           "INTERNAL",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

type coder interface {
	ErrorCode() ErrorCode
}

// fundamental is an error that has a message and a code, and optionally the
// error it was formatted from (via %w).
type fundamental struct {
	msg   string
	code  ErrorCode
	cause error
}

func (f *fundamental) Error() string        { return f.msg }
func (f *fundamental) ErrorCode() ErrorCode { return f.code }
func (f *fundamental) Unwrap() error        { return f.cause }

// New returns an error with the supplied message and code.
func New(code ErrorCode, message string) error {
	return &fundamental{msg: message, code: code}
}

// Errorf formats according to a format specifier and returns the string
// as a value that satisfies error. Like fmt.Errorf, a %w verb records the
// wrapped error so errors.Is and errors.As see through it, but the returned
// error reports code.
func Errorf(code ErrorCode, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &fundamental{msg: err.Error(), code: code, cause: errors.Unwrap(err)}
}

type wrapping struct {
	cause error
	msg   string
}

func (w *wrapping) Error() string        { return w.msg + ": " + w.cause.Error() }
func (w *wrapping) ErrorCode() ErrorCode { return Code(w.cause) }
func (w *wrapping) Unwrap() error        { return w.cause }

// Wrap returns an error annotating err with message. The code of err is
// preserved. If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrapping{cause: err, msg: message}
}

// Wrapf returns an error annotating err with the format specifier. If err is
// nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapping{cause: err, msg: fmt.Sprintf(format, args...)}
}

// Code returns the error code if it's a kverrors error. It returns OK for a
// nil error and Unknown for errors that carry no code.
func Code(err error) ErrorCode {
	if err == nil {
		return OK
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return Unknown
}

// Cause returns the immediate cause of err, or nil if it has none.
func Cause(err error) error {
	return errors.Unwrap(err)
}

// RootCause returns the innermost error in the Unwrap chain.
func RootCause(err error) error {
	for {
		cause := errors.Unwrap(err)
		if cause == nil {
			return err
		}
		err = cause
	}
}

// IsRetryable reports whether err describes a transient condition: the
// backend or location service being unavailable, or a contended lock.
func IsRetryable(err error) bool {
	switch Code(err) {
	case Unavailable, ResourceExhausted:
		return true
	}
	return false
}
