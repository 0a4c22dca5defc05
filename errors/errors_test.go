// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package errors

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestCallErrUnwrap(t *testing.T) {
	inner := &AuthError{Code: "authorization_pending"}
	err := error(CallErr{Err: inner})

	got := &AuthError{}
	if !As(err, &got) {
		t.Fatalf("TestCallErrUnwrap: AuthError not reachable through CallErr")
	}
	if got.Code != "authorization_pending" {
		t.Errorf("TestCallErrUnwrap: Code: got %q", got.Code)
	}
}

func TestCallErrVerbose(t *testing.T) {
	u, _ := url.Parse("https://login.microsoftonline.com/common/oauth2/token")
	err := CallErr{
		Req:  &http.Request{Method: http.MethodPost, URL: u},
		Resp: &http.Response{StatusCode: http.StatusBadRequest},
		Err:  New("boom"),
	}
	v := Verbose(err)
	if !strings.Contains(v, "boom") || !strings.Contains(v, "Request") || !strings.Contains(v, "Response") {
		t.Errorf("TestCallErrVerbose: verbose output incomplete:\n%s", v)
	}
}

func TestCallErrVerboseWithoutResponse(t *testing.T) {
	// A failed round trip produces a CallErr with no response at all.
	u, _ := url.Parse("https://login.microsoftonline.com/common/oauth2/token")
	err := CallErr{
		Req: &http.Request{Method: http.MethodPost, URL: u},
		Err: New("dial tcp: connection refused"),
	}
	v := Verbose(err)
	if !strings.Contains(v, "connection refused") || !strings.Contains(v, "Request") {
		t.Errorf("TestCallErrVerboseWithoutResponse: verbose output incomplete:\n%s", v)
	}
}

func TestVerboseFallsBackToError(t *testing.T) {
	if got := Verbose(New("plain")); got != "plain" {
		t.Errorf("TestVerboseFallsBackToError: got %q", got)
	}
}

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		desc string
		err  error
		want string
	}{
		{
			desc: "auth error with description",
			err:  &AuthError{Code: "invalid_grant", Description: "expired"},
			want: "invalid_grant: expired",
		},
		{
			desc: "auth error bare code",
			err:  &AuthError{Code: "invalid_grant"},
			want: "invalid_grant",
		},
		{
			desc: "config error with fields",
			err:  &ConfigError{Fields: []string{"username", "certificate"}, Reason: "cannot deduce a flow"},
			want: "cannot deduce a flow (fields: username, certificate)",
		},
		{
			desc: "config error without fields",
			err:  &ConfigError{Reason: "no cache configured"},
			want: "no cache configured",
		},
	}
	for _, test := range tests {
		if got := test.err.Error(); got != test.want {
			t.Errorf("TestErrorStrings(%s): got %q, want %q", test.desc, got, test.want)
		}
	}
}

func TestTimeoutAndCacheUnwrap(t *testing.T) {
	sentinel := New("inner")
	if !Is(&TimeoutError{Op: "redirect", Err: sentinel}, sentinel) {
		t.Errorf("TestTimeoutAndCacheUnwrap: TimeoutError does not unwrap")
	}
	if !Is(&CacheError{Op: "get", Key: "aa", Err: sentinel}, sentinel) {
		t.Errorf("TestTimeoutAndCacheUnwrap: CacheError does not unwrap")
	}
}
