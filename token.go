// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package azureauth

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cran/AzureAuth/errors"
	"github.com/cran/AzureAuth/internal/oauth/ops/accesstokens"
)

// expiryDelta pads expiry checks so a token that is about to expire is not handed to
// a caller who will lose the race using it.
const expiryDelta = 10 * time.Second

// Token is one issued token record: the credential strings, their lifetime, and the
// request that produced them. Records are immutable once issued; Refresh produces a
// new record rather than updating one in place.
type Token struct {
	// Request is the originating request. It re-derives the cache key and carries
	// everything needed to refresh or reacquire.
	Request TokenRequest `json:"request"`

	AccessToken string `json:"access_token"`
	// RefreshToken, when present, means the record can be renewed without
	// reauthentication.
	RefreshToken string `json:"refresh_token,omitempty"`
	// IDToken is the raw OpenID Connect ID token, present only for interactive
	// flows or when the openid scope was requested under v2.
	IDToken   string `json:"id_token,omitempty"`
	TokenType string `json:"token_type,omitempty"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresOn time.Time `json:"expires_on"`
}

// newToken builds a Token record from a token endpoint response.
func newToken(req TokenRequest, tr accesstokens.TokenResponse) *Token {
	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		Request:      req,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tokenType,
		IssuedAt:     time.Now().UTC(),
		ExpiresOn:    tr.ExpiresOn.UTC(),
	}
}

// Valid reports whether the token is usable: issued and not within expiryDelta of
// expiry.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return time.Now().Add(expiryDelta).Before(t.ExpiresOn)
}

// Fingerprint returns the cache key of the record, derived from its request.
func (t *Token) Fingerprint() string {
	return t.Request.Fingerprint()
}

// Clone returns a deep copy sharing no mutable state with t. Change the clone's
// resource or scope and refresh it to exchange the refresh token for an access token
// addressed to another resource; the original record and its cache entry are
// unaffected.
func (t *Token) Clone() *Token {
	cp := *t
	cp.Request = t.Request.clone()
	return &cp
}

// WithResource returns a clone of t requesting the given v1 resource.
func (t *Token) WithResource(resource string) *Token {
	cp := t.Clone()
	cp.Request.Resource = resource
	return cp
}

// WithScopes returns a clone of t requesting the given v2 scopes.
func (t *Token) WithScopes(scopes ...string) *Token {
	cp := t.Clone()
	cp.Request.Scopes = append([]string(nil), scopes...)
	return cp
}

// IDTokenClaims are the claims read out of an ID token. The token is decoded locally
// without signature verification; treat the values as hints, not authenticated facts.
type IDTokenClaims struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	Oid               string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
	Subject           string `json:"sub,omitempty"`
	UPN               string `json:"upn,omitempty"`
	Email             string `json:"email,omitempty"`
	Issuer            string `json:"iss,omitempty"`
	Audience          string `json:"aud,omitempty"`
	ExpirationTime    int64  `json:"exp,omitempty"`
	IssuedAt          int64  `json:"iat,omitempty"`
	NotBefore         int64  `json:"nbf,omitempty"`
}

// IDTokenClaims decodes the record's ID token, if it has one.
func (t *Token) IDTokenClaims() (IDTokenClaims, error) {
	if t.IDToken == "" {
		return IDTokenClaims{}, errors.New("token record has no id token")
	}
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.IDToken, mapClaims); err != nil {
		return IDTokenClaims{}, fmt.Errorf("decoding id token: %w", err)
	}
	// Round-trip through JSON to map the claims onto the typed struct.
	raw, err := json.Marshal(mapClaims)
	if err != nil {
		return IDTokenClaims{}, err
	}
	claims := IDTokenClaims{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return IDTokenClaims{}, fmt.Errorf("decoding id token claims: %w", err)
	}
	return claims, nil
}
