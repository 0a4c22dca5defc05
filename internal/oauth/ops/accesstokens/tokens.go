// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package accesstokens

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cran/AzureAuth/errors"
	"github.com/cran/AzureAuth/internal/oauth/ops/authority"
)

// TokenResponse is the information returned from a token endpoint during a token
// acquisition flow.
type TokenResponse struct {
	authority.OAuthResponseBase

	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	Scope        string

	// ExpiresOn is the access token expiry. Derived from expires_in, or taken from
	// expires_on when the endpoint reports it directly (v1 and managed identity).
	ExpiresOn time.Time
	// ExtExpiresOn is the extended lifetime expiry, when the STS grants one.
	ExtExpiresOn time.Time
}

// HasRefreshToken reports whether the TokenResponse carries a refresh token.
func (tr TokenResponse) HasRefreshToken() bool {
	return len(tr.RefreshToken) > 0
}

// GrantedScopes returns the scopes the STS granted, lowercased.
func (tr TokenResponse) GrantedScopes() []string {
	if tr.Scope == "" {
		return nil
	}
	return strings.Split(strings.ToLower(tr.Scope), " ")
}

// Validate checks that the response carries an access token.
func (tr TokenResponse) Validate() error {
	if tr.AccessToken == "" {
		return errors.New("response is missing access_token")
	}
	return nil
}

// tokenResponsePayload mirrors the JSON the endpoints actually send. The lifetime
// fields are RawMessage because v1 endpoints report them as strings where v2 and the
// managed identity endpoints report numbers.
type tokenResponsePayload struct {
	authority.OAuthResponseBase

	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	IDToken      string          `json:"id_token"`
	TokenType    string          `json:"token_type"`
	Scope        string          `json:"scope"`
	ExpiresIn    json.RawMessage `json:"expires_in"`
	ExpiresOn    json.RawMessage `json:"expires_on"`
	ExtExpiresIn json.RawMessage `json:"ext_expires_in"`
}

// UnmarshalJSON implements json.Unmarshaler, normalizing the lifetime fields the
// endpoints report in several shapes.
func (tr *TokenResponse) UnmarshalJSON(data []byte) error {
	payload := tokenResponsePayload{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	now := time.Now()
	expiresOn, ok := unixTime(payload.ExpiresOn)
	if !ok {
		if secs, ok := seconds(payload.ExpiresIn); ok {
			expiresOn = now.Add(time.Duration(secs) * time.Second)
		}
	}
	var extExpiresOn time.Time
	if secs, ok := seconds(payload.ExtExpiresIn); ok {
		extExpiresOn = now.Add(time.Duration(secs) * time.Second)
	}

	*tr = TokenResponse{
		OAuthResponseBase: payload.OAuthResponseBase,
		AccessToken:       payload.AccessToken,
		RefreshToken:      payload.RefreshToken,
		IDToken:           payload.IDToken,
		TokenType:         payload.TokenType,
		Scope:             payload.Scope,
		ExpiresOn:         expiresOn,
		ExtExpiresOn:      extExpiresOn,
	}
	return nil
}

// seconds interprets a raw JSON value as a duration in seconds, accepting both the
// number and quoted-string encodings.
func seconds(raw json.RawMessage) (int64, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// unixTime interprets a raw JSON value as a Unix timestamp, accepting both encodings.
// Small values are expires_in-style durations mislabeled by some endpoints; those are
// rejected so the caller falls back to expires_in.
func unixTime(raw json.RawMessage) (time.Time, bool) {
	n, ok := seconds(raw)
	if !ok {
		return time.Time{}, false
	}
	const yr2000 = 946684800
	if n < yr2000 {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

