// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package oauth drives the OAuth grant flows against the AAD endpoints. Each grant is
// one method on Client taking the authorization parameters and returning a raw
// TokenResponse; orchestration (caching, flow selection, interaction) lives above in
// the azureauth package.
package oauth

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/cran/AzureAuth/errors"
	"github.com/cran/AzureAuth/internal/oauth/ops/accesstokens"
	"github.com/cran/AzureAuth/internal/oauth/ops/authority"
	"github.com/cran/AzureAuth/internal/oauth/internal/comm"
)

// accessTokens is the surface of accesstokens.Client used here. It is an interface to
// allow faking in tests.
type accessTokens interface {
	FromUsernamePassword(ctx context.Context, authParams authority.AuthParams) (accesstokens.TokenResponse, error)
	FromAuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error)
	FromRefreshToken(ctx context.Context, authParams authority.AuthParams, cc *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error)
	FromClientSecret(ctx context.Context, authParams authority.AuthParams, secret string) (accesstokens.TokenResponse, error)
	FromAssertion(ctx context.Context, authParams authority.AuthParams, assertion string) (accesstokens.TokenResponse, error)
	FromUserAssertion(ctx context.Context, authParams authority.AuthParams, userAssertion string) (accesstokens.TokenResponse, error)
	DeviceCode(ctx context.Context, authParams authority.AuthParams) (accesstokens.DeviceCodeResult, error)
	FromDeviceCodeResult(ctx context.Context, authParams authority.AuthParams, dcr accesstokens.DeviceCodeResult) (accesstokens.TokenResponse, error)
	FromManagedIdentity(ctx context.Context, endpoint string, qv url.Values, headers http.Header) (accesstokens.TokenResponse, error)
}

// Client provides tokens for various types of token requests.
type Client struct {
	AccessTokens accessTokens
}

// New is the constructor for Client. A nil httpClient selects the default pooled
// transport.
func New(httpClient comm.HTTPClient) *Client {
	c := comm.New(httpClient)
	return &Client{AccessTokens: accesstokens.Client{Comm: c}}
}

// AuthCode returns a token based on an authorization code.
func (t *Client) AuthCode(ctx context.Context, req accesstokens.AuthCodeRequest) (accesstokens.TokenResponse, error) {
	return t.AccessTokens.FromAuthCode(ctx, req)
}

// Credential acquires a token from the authority using a client credential: a secret
// when cred.Secret is set, otherwise a JWT assertion signed with the certificate key.
func (t *Client) Credential(ctx context.Context, authParams authority.AuthParams, cred *accesstokens.Credential) (accesstokens.TokenResponse, error) {
	if cred.Secret != "" {
		return t.AccessTokens.FromClientSecret(ctx, authParams, cred.Secret)
	}
	jwt, err := cred.JWT(authParams.Endpoints.TokenEndpoint, authParams.ClientID)
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}
	return t.AccessTokens.FromAssertion(ctx, authParams, jwt)
}

// UsernamePassword retrieves a token where a username and password is used in the
// resource-owner grant.
func (t *Client) UsernamePassword(ctx context.Context, authParams authority.AuthParams) (accesstokens.TokenResponse, error) {
	return t.AccessTokens.FromUsernamePassword(ctx, authParams)
}

// OnBehalfOf exchanges the user assertion in authParams for a token addressed to
// another resource, on behalf of the user the assertion was issued to.
func (t *Client) OnBehalfOf(ctx context.Context, authParams authority.AuthParams) (accesstokens.TokenResponse, error) {
	return t.AccessTokens.FromUserAssertion(ctx, authParams, authParams.UserAssertion)
}

// Refresh obtains a new access token (and possibly a rotated refresh token) from a
// refresh token. A failure here is terminal: the caller decides whether to reacquire.
func (t *Client) Refresh(ctx context.Context, authParams authority.AuthParams, cred *accesstokens.Credential, refreshToken string) (accesstokens.TokenResponse, error) {
	return t.AccessTokens.FromRefreshToken(ctx, authParams, cred, refreshToken)
}

// DeviceCode is the result of a call to Client.DeviceCode(). It contains the
// information needed by the user to authorize on a second device, plus Token(), which
// polls for the result of that authorization.
type DeviceCode struct {
	// Result is the device code information to surface to the user.
	Result accesstokens.DeviceCodeResult

	authParams   authority.AuthParams
	accessTokens accessTokens
}

// Device code polling constants. slowDownIncrement is dictated by the OAuth device
// grant spec (RFC 8628 §3.5).
const (
	defaultPollInterval = 5 * time.Second
	slowDownIncrement   = 5 * time.Second
)

// Token blocks, polling the token endpoint at the interval the STS asked for until
// the user completes or declines authorization, the device code expires, or ctx is
// cancelled. No poll request is issued after cancellation.
func (d DeviceCode) Token(ctx context.Context) (accesstokens.TokenResponse, error) {
	interval := defaultPollInterval
	if d.Result.Interval > 0 {
		interval = time.Duration(d.Result.Interval) * time.Second
	}

	var cancel context.CancelFunc
	if !d.Result.ExpiresOn.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, d.Result.ExpiresOn)
		defer cancel()
	}

	for {
		select {
		case <-ctx.Done():
			return accesstokens.TokenResponse{}, &errors.TimeoutError{Op: "device code flow", Err: ctx.Err()}
		case <-time.After(interval):
		}

		resp, err := d.accessTokens.FromDeviceCodeResult(ctx, d.authParams, d.Result)
		if err == nil {
			return resp, nil
		}

		authErr := &errors.AuthError{}
		if !errors.As(err, &authErr) {
			return accesstokens.TokenResponse{}, err
		}
		switch authErr.Code {
		case "authorization_pending":
			// keep polling
		case "slow_down":
			interval += slowDownIncrement
		case "expired_token", "code_expired":
			return accesstokens.TokenResponse{}, &errors.TimeoutError{Op: "device code flow", Err: authErr}
		default:
			// authorization_declined, bad_verification_code, anything else: terminal.
			return accesstokens.TokenResponse{}, authErr
		}
	}
}

// DeviceCode begins the device code flow: it requests a device code from the STS and
// returns a handle carrying the user instructions and a Token() poller.
func (t *Client) DeviceCode(ctx context.Context, authParams authority.AuthParams) (DeviceCode, error) {
	dcr, err := t.AccessTokens.DeviceCode(ctx, authParams)
	if err != nil {
		return DeviceCode{}, err
	}
	return DeviceCode{Result: dcr, authParams: authParams, accessTokens: t.AccessTokens}, nil
}
