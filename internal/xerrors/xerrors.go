/*
Copyright 2025 The OrgSync Authors.

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

// Package xerrors contains structured errors shared across the pipeline.
// Every error that crosses a component boundary carries a Kind so that
// callers can select a recovery policy without string matching.
package xerrors

import (
	"errors"
	"fmt"
)

// A Kind classifies an error by the recovery policy it demands.
type Kind int

// Kinds of error, ordered roughly by how often they occur.
const (
	// Transport covers connectivity failures, timeouts, and unexpected
	// HTTP statuses. Retried at the HTTP layer; fatal once surfaced.
	Transport Kind = iota

	// RateLimited is an HTTP 429. It only surfaces when the retry
	// budget is exhausted.
	RateLimited

	// Unauthorized is an HTTP 401. Extractors refresh their token and
	// retry once; the reconciler surfaces it.
	Unauthorized

	// Config is a malformed or missing configuration value. Always
	// fatal at start-up, before any mutation is attempted.
	Config

	// BusinessRule is a semantic mismatch between source and target,
	// e.g. an unknown leave type. Logged and skipped; never fatal.
	BusinessRule
)

// String returns a human readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case RateLimited:
		return "rate limited"
	case Unauthorized:
		return "unauthorized"
	case Config:
		return "config"
	case BusinessRule:
		return "business rule"
	}
	return "unknown"
}

// An Error associates a Kind with an underlying cause.
type Error struct {
	// Kind selects the recovery policy.
	Kind Kind

	// Msg describes what was being attempted.
	Msg string

	// Err is an optional wrapped cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err.Error())
	}
	return e.Msg
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the supplied kind.
func New(k Kind, msg string) error {
	return &Error{Kind: k, Msg: msg}
}

// Newf returns an error of the supplied kind with a formatted message.
func Newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps the supplied error with a kind and message. It returns nil
// when the supplied error is nil.
func Wrap(err error, k Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain. The second return is
// false when no *Error is present in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether any error in the chain carries the supplied kind.
func Is(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}
