// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package accesstokens exposes a REST client for querying the AAD token, devicecode and
managed-identity endpoints to get the various types of access tokens.

Token endpoint calls are of type "application/x-www-form-urlencoded". This means we use
url.Values to represent arguments and then encode them into the POST body message. We
receive JSON in return for the requests. The request definition is defined in
https://tools.ietf.org/html/rfc7521#section-4.2 .
*/
package accesstokens

import (
	"context"
	"crypto"

	/* #nosec */
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cran/AzureAuth/internal/oauth/ops/authority"
)

const (
	grantType     = "grant_type"
	deviceCode    = "device_code"
	clientID      = "client_id"
	clientSecret  = "client_secret"
	username      = "username"
	password      = "password"
	assertionType = "client_assertion_type"
)

// Grant type values for the token endpoint.
const (
	grantAuthCode     = "authorization_code"
	grantRefreshToken = "refresh_token"
	grantClientCred   = "client_credentials"
	grantPassword     = "password"
	grantDeviceCode   = "urn:ietf:params:oauth:grant-type:device_code"
	grantJWTBearer    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	jwtAssertionType  = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

type caller interface {
	URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp interface{}) error
	JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) error
}

// Credential represents the credential used in confidential client flows. This can be
// either a Secret or Cert/Key.
type Credential struct {
	// Secret contains the credential secret if we are doing auth by secret.
	Secret string

	// Cert is the public certificate, if we're authenticating by certificate.
	Cert *x509.Certificate
	// Key is the private key for signing, if we're authenticating by certificate.
	Key crypto.PrivateKey

	// mu protects everything below.
	mu sync.Mutex
	// assertion is the signed JWT assertion if we have retrieved it.
	assertion string
	// expires is when the assertion expires.
	expires time.Time
}

// JWT gets the jwt assertion when the credential is not using a secret.
func (c *Credential) JWT(tokenEndpoint, clientID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expires.After(time.Now()) && c.assertion != "" {
		return c.assertion, nil
	}
	expires := time.Now().Add(10 * time.Minute)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"aud": tokenEndpoint,
		"exp": strconv.FormatInt(expires.Unix(), 10),
		"iss": clientID,
		"jti": uuid.New().String(),
		"nbf": strconv.FormatInt(time.Now().Unix(), 10),
		"sub": clientID,
	})
	token.Header = map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
		"x5t": base64.StdEncoding.EncodeToString(Thumbprint(c.Cert)),
	}

	assertion, err := token.SignedString(c.Key)
	if err != nil {
		return "", fmt.Errorf("unable to sign a JWT token using private key: %w", err)
	}

	c.assertion = assertion
	c.expires = expires
	return c.assertion, nil
}

// Thumbprint runs the asn1.Der bytes through sha1 for use in the x5t parameter of JWT.
// https://tools.ietf.org/html/rfc7517#section-4.8
func Thumbprint(cert *x509.Certificate) []byte {
	/* #nosec */
	a := sha1.Sum(cert.Raw)
	return a[:]
}

// Client represents the REST calls to get tokens from token generator backends.
type Client struct {
	// Comm provides the HTTP transport client.
	Comm caller
}

// FromUsernamePassword uses a username and password to get an access token.
func (c Client) FromUsernamePassword(ctx context.Context, authParameters authority.AuthParams) (TokenResponse, error) {
	qv := url.Values{}
	qv.Set(grantType, grantPassword)
	qv.Set(username, authParameters.Username)
	qv.Set(password, authParameters.Password)
	qv.Set(clientID, authParameters.ClientID)
	authParameters.AudienceQueryParam(qv)

	return c.doTokenResp(ctx, authParameters, qv)
}

// AuthCodeRequest stores the values required to request a token from the authority
// using an authorization code.
type AuthCodeRequest struct {
	AuthParams   authority.AuthParams
	Code         string
	CodeVerifier string
	Credential   *Credential
}

// FromAuthCode uses an authorization code to retrieve an access token.
func (c Client) FromAuthCode(ctx context.Context, req AuthCodeRequest) (TokenResponse, error) {
	if req.Code == "" {
		return TokenResponse{}, fmt.Errorf("bug: FromAuthCode() called with an empty authorization code")
	}

	qv := url.Values{}
	if req.Credential != nil {
		if err := prepURLVals(qv, req.Credential, req.AuthParams); err != nil {
			return TokenResponse{}, err
		}
	}
	qv.Set(grantType, grantAuthCode)
	qv.Set("code", req.Code)
	if req.CodeVerifier != "" {
		qv.Set("code_verifier", req.CodeVerifier)
	}
	qv.Set("redirect_uri", req.AuthParams.Redirecturi)
	qv.Set(clientID, req.AuthParams.ClientID)
	req.AuthParams.AudienceQueryParam(qv)

	return c.doTokenResp(ctx, req.AuthParams, qv)
}

// FromRefreshToken uses a refresh token to get a new access token.
func (c Client) FromRefreshToken(ctx context.Context, authParams authority.AuthParams, cc *Credential, refreshToken string) (TokenResponse, error) {
	qv := url.Values{}
	if cc != nil {
		if err := prepURLVals(qv, cc, authParams); err != nil {
			return TokenResponse{}, err
		}
	}
	qv.Set(grantType, grantRefreshToken)
	qv.Set(clientID, authParams.ClientID)
	qv.Set("refresh_token", refreshToken)
	authParams.AudienceQueryParam(qv)

	return c.doTokenResp(ctx, authParams, qv)
}

// FromClientSecret uses a client's secret (aka password) to get a new token.
func (c Client) FromClientSecret(ctx context.Context, authParameters authority.AuthParams, secret string) (TokenResponse, error) {
	qv := url.Values{}
	qv.Set(grantType, grantClientCred)
	qv.Set(clientSecret, secret)
	qv.Set(clientID, authParameters.ClientID)
	authParameters.AudienceQueryParam(qv)

	token, err := c.doTokenResp(ctx, authParameters, qv)
	if err != nil {
		return token, fmt.Errorf("FromClientSecret(): %w", err)
	}
	return token, nil
}

// FromAssertion uses a signed JWT assertion to get a new token.
func (c Client) FromAssertion(ctx context.Context, authParameters authority.AuthParams, assertion string) (TokenResponse, error) {
	qv := url.Values{}
	qv.Set(grantType, grantClientCred)
	qv.Set(assertionType, jwtAssertionType)
	qv.Set("client_assertion", assertion)
	qv.Set(clientID, authParameters.ClientID)
	authParameters.AudienceQueryParam(qv)

	token, err := c.doTokenResp(ctx, authParameters, qv)
	if err != nil {
		return token, fmt.Errorf("FromAssertion(): %w", err)
	}
	return token, nil
}

// FromUserAssertion exchanges a prior access token for a new one on behalf of the user
// it was issued to.
func (c Client) FromUserAssertion(ctx context.Context, authParams authority.AuthParams, userAssertion string) (TokenResponse, error) {
	qv := url.Values{}
	qv.Set(grantType, grantJWTBearer)
	qv.Set(clientID, authParams.ClientID)
	qv.Set(clientSecret, authParams.Password)
	qv.Set("assertion", userAssertion)
	qv.Set("requested_token_use", "on_behalf_of")
	authParams.AudienceQueryParam(qv)

	return c.doTokenResp(ctx, authParams, qv)
}

// DeviceCodeResult is the response from the device code endpoint, normalized across
// protocol versions.
type DeviceCodeResult struct {
	// UserCode is the code the user enters at the verification URI.
	UserCode string
	// DeviceCode is the code used in the access token request.
	DeviceCode string
	// VerificationURL is the URL where the user authenticates.
	VerificationURL string
	// ExpiresOn is when the device code stops being redeemable.
	ExpiresOn time.Time
	// Interval is the polling interval, in seconds, the STS asked for.
	Interval int
	// Message is the full text to display to the user.
	Message string
}

func (dcr DeviceCodeResult) String() string {
	return fmt.Sprintf("UserCode: (%v)\nDeviceCode: (%v)\nURL: (%v)\nMessage: (%v)\n", dcr.UserCode, dcr.DeviceCode, dcr.VerificationURL, dcr.Message)
}

// DeviceCodeResponse is the raw HTTP response received from the device code endpoint.
type DeviceCodeResponse struct {
	authority.OAuthResponseBase

	UserCode   string `json:"user_code"`
	DeviceCode string `json:"device_code"`
	// v1 endpoints use verification_url, v2 verification_uri.
	VerificationURL string      `json:"verification_url"`
	VerificationURI string      `json:"verification_uri"`
	ExpiresIn       json.Number `json:"expires_in"`
	Interval        json.Number `json:"interval"`
	Message         string      `json:"message"`
}

// ToDeviceCodeResult converts the DeviceCodeResponse to a DeviceCodeResult.
func (dcr DeviceCodeResponse) ToDeviceCodeResult() DeviceCodeResult {
	verification := dcr.VerificationURI
	if verification == "" {
		verification = dcr.VerificationURL
	}
	expiresIn, _ := dcr.ExpiresIn.Int64()
	interval, _ := dcr.Interval.Int64()
	return DeviceCodeResult{
		UserCode:        dcr.UserCode,
		DeviceCode:      dcr.DeviceCode,
		VerificationURL: verification,
		ExpiresOn:       time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
		Interval:        int(interval),
		Message:         dcr.Message,
	}
}

// DeviceCode requests a device code from the devicecode endpoint.
func (c Client) DeviceCode(ctx context.Context, authParameters authority.AuthParams) (DeviceCodeResult, error) {
	qv := url.Values{}
	qv.Set(clientID, authParameters.ClientID)
	authParameters.AudienceQueryParam(qv)

	resp := DeviceCodeResponse{}
	if err := c.Comm.URLFormCall(ctx, authParameters.Endpoints.DeviceCodeEndpoint, qv, &resp); err != nil {
		return DeviceCodeResult{}, err
	}
	if err := resp.AuthErr(); err != nil {
		return DeviceCodeResult{}, err
	}

	return resp.ToDeviceCodeResult(), nil
}

// FromDeviceCodeResult polls the token endpoint once with a device code.
func (c Client) FromDeviceCodeResult(ctx context.Context, authParameters authority.AuthParams, deviceCodeResult DeviceCodeResult) (TokenResponse, error) {
	qv := url.Values{}
	qv.Set(grantType, grantDeviceCode)
	qv.Set(deviceCode, deviceCodeResult.DeviceCode)
	// v1 endpoints use code= for the device code grant.
	qv.Set("code", deviceCodeResult.DeviceCode)
	qv.Set(clientID, authParameters.ClientID)
	authParameters.AudienceQueryParam(qv)

	return c.doTokenResp(ctx, authParameters, qv)
}

// FromManagedIdentity calls a managed identity endpoint (IMDS or an App Service
// bridge) with a GET carrying the given query values and headers.
func (c Client) FromManagedIdentity(ctx context.Context, endpoint string, qv url.Values, headers http.Header) (TokenResponse, error) {
	resp := TokenResponse{}
	if err := c.Comm.JSONCall(ctx, endpoint, headers, qv, nil, &resp); err != nil {
		return TokenResponse{}, err
	}
	if err := resp.AuthErr(); err != nil {
		return TokenResponse{}, err
	}
	if err := resp.Validate(); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

func (c Client) doTokenResp(ctx context.Context, authParameters authority.AuthParams, qv url.Values) (TokenResponse, error) {
	resp := TokenResponse{}
	if err := c.Comm.URLFormCall(ctx, authParameters.Endpoints.TokenEndpoint, qv, &resp); err != nil {
		return TokenResponse{}, err
	}
	if err := resp.AuthErr(); err != nil {
		return TokenResponse{}, err
	}
	if err := resp.Validate(); err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// prepURLVals sets the key/values for authenticating the client itself, by secret or
// by JWT assertion.
func prepURLVals(qv url.Values, cc *Credential, authParams authority.AuthParams) error {
	if cc.Secret != "" {
		qv.Set(clientSecret, cc.Secret)
		return nil
	}

	jwtAssertion, err := cc.JWT(authParams.Endpoints.TokenEndpoint, authParams.ClientID)
	if err != nil {
		return err
	}
	qv.Set("client_assertion", jwtAssertion)
	qv.Set(assertionType, jwtAssertionType)
	return nil
}
