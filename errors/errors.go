// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package errors defines the error types returned during token acquisition. Callers can
distinguish failure classes with errors.As():

  - AuthError: the identity provider rejected the request. Carries the provider's
    error code, suberror and description.
  - ConfigError: the request parameters were missing, contradictory or ambiguous.
    Never retryable.
  - TimeoutError: an interactive step (redirect capture, device-code entry) did not
    complete in time.
  - CacheError: the on-disk token store could not be read or written.
  - CallErr: an HTTP round trip failed or returned an unexpected status. Has a
    Verbose() method exposing the request and response for debugging.
*/
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error that the error message has.
func Verbose(err error) string {
	if v, ok := err.(verboser); ok {
		return v.Verbose()
	}
	return err.Error()
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// Is is equivalent to errors.Is().
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is equivalent to errors.As().
func As(err error, target any) bool {
	return errors.As(err, target)
}

// CallErr represents an HTTP call error. Has a Verbose() method that allows getting the
// http.Request and Response objects. Implements error.
type CallErr struct {
	Req  *http.Request
	Resp *http.Response
	Err  error
}

// Error implements error.Error().
func (e CallErr) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped error so that errors.As can reach a provider
// error carried inside a CallErr.
func (e CallErr) Unwrap() error {
	return e.Err
}

// Verbose prints a verbose error message with the request and response.
func (e CallErr) Verbose() string {
	if e.Resp != nil {
		// Resp is nil when the round trip itself failed.
		e.Resp.Request = nil // already included in e.Req, don't print it twice
	}
	return fmt.Sprintf("%s:\n\tRequest:\n%s\n\tResponse:\n%s", e.Err, prettyConf.Sprint(e.Req), prettyConf.Sprint(e.Resp))
}

// AuthError is an error response from the identity provider's token, authorize or
// devicecode endpoint. The Code field holds the OAuth error code, for example
// "invalid_grant" or "authorization_pending".
type AuthError struct {
	Code          string
	SubError      string
	Description   string
	ErrorCodes    []int
	CorrelationID string
}

func (e *AuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ConfigError indicates request parameters that are missing, contradictory or
// ambiguous. It is fatal: retrying with the same parameters cannot succeed.
type ConfigError struct {
	// Fields names the parameters involved.
	Fields []string
	Reason string
}

func (e *ConfigError) Error() string {
	if len(e.Fields) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (fields: %s)", e.Reason, strings.Join(e.Fields, ", "))
}

// TimeoutError indicates that an interactive step did not complete before its
// deadline: the authorization redirect never arrived or the device code expired.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// CacheError indicates a failure reading or writing the token store. Read failures
// are treated as cache misses by the token client; write failures are surfaced in
// the log but do not invalidate a freshly acquired token.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("token cache %s(%s): %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// ErrNotManagedIdentityHost is returned when the managed identity endpoint cannot be
// reached, meaning the process is not running on a managed-identity-capable host.
// This condition is permanent; callers should not retry.
var ErrNotManagedIdentityHost = errors.New("host does not support managed identity")
