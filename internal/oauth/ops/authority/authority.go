// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package authority describes the Azure Active Directory endpoints a token request is
// sent to. An authority is identified by a host, a tenant and a protocol version; the
// version governs the endpoint URL shape and whether the request carries a single
// resource (v1) or a set of scopes (v2).
package authority

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/cran/AzureAuth/errors"
)

// DefaultHost is the Azure AD endpoint host for the worldwide public cloud.
const DefaultHost = "login.microsoftonline.com"

// Version is the generation of the AAD token endpoint.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

// Info identifies an authority: which host and tenant to talk to and with which
// protocol version.
type Info struct {
	Host    string
	Tenant  string
	Version Version
}

// NewInfo returns authority info for the given host, tenant and version. host may be
// bare ("login.microsoftonline.com") or a URL; an empty host selects DefaultHost and an
// empty tenant selects "common".
func NewInfo(host, tenant string, version Version) (Info, error) {
	if version != V1 && version != V2 {
		return Info{}, &errors.ConfigError{Fields: []string{"version"}, Reason: fmt.Sprintf("unknown AAD endpoint version %d", version)}
	}
	if host == "" {
		host = DefaultHost
	}
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return Info{}, &errors.ConfigError{Fields: []string{"host"}, Reason: fmt.Sprintf("authority host %q cannot be parsed: %v", host, err)}
		}
		if u.Scheme != "https" {
			return Info{}, &errors.ConfigError{Fields: []string{"host"}, Reason: fmt.Sprintf("authority host %q did not start with https://", host)}
		}
		host = u.Host
	}
	if tenant == "" {
		tenant = "common"
	}
	return Info{Host: strings.ToLower(host), Tenant: strings.ToLower(tenant), Version: version}, nil
}

// Endpoints are the URLs a grant flow talks to, derived from the authority info.
type Endpoints struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	DeviceCodeEndpoint    string
}

// Endpoints derives the endpoint URLs for the authority.
func (i Info) Endpoints() Endpoints {
	base := fmt.Sprintf("https://%s/%s/oauth2", i.Host, i.Tenant)
	if i.Version == V2 {
		base += "/v2.0"
	}
	return Endpoints{
		AuthorizationEndpoint: base + "/authorize",
		TokenEndpoint:         base + "/token",
		DeviceCodeEndpoint:    base + "/devicecode",
	}
}

// OAuthResponseBase are the error fields AAD may include in any endpoint response.
type OAuthResponseBase struct {
	Error            string `json:"error"`
	SubError         string `json:"suberror"`
	ErrorDescription string `json:"error_description"`
	ErrorCodes       []int  `json:"error_codes"`
	CorrelationID    string `json:"correlation_id"`
	Claims           string `json:"claims"`
}

// AuthErr converts a provider error response into a typed error, or nil when the
// response carries no error.
func (r OAuthResponseBase) AuthErr() error {
	if r.Error == "" {
		return nil
	}
	return &errors.AuthError{
		Code:          r.Error,
		SubError:      r.SubError,
		Description:   r.ErrorDescription,
		ErrorCodes:    r.ErrorCodes,
		CorrelationID: r.CorrelationID,
	}
}

//go:generate stringer -type=AuthorizationType

// AuthorizationType represents the type of token flow.
type AuthorizationType int

// These are all the types of token flows.
const (
	ATUnknown AuthorizationType = iota
	ATUsernamePassword
	ATAuthCode
	ATClientCredentials
	ATDeviceCode
	ATOnBehalfOf
	ATManagedIdentity
	ATRefreshToken
)

// AuthParams represents the parameters used for authorization for token acquisition.
type AuthParams struct {
	AuthorityInfo Info
	CorrelationID string
	Endpoints     Endpoints
	ClientID      string
	Redirecturi   string
	Username      string
	Password      string

	// Resource is the v1 audience. Scopes is the v2 scope set. Exactly one is
	// consulted, selected by AuthorityInfo.Version.
	Resource string
	Scopes   []string

	// UserAssertion is the prior access token exchanged in the on-behalf-of flow.
	UserAssertion string

	AuthorizationType AuthorizationType
}

// NewAuthParams creates an authorization parameters object with a fresh correlation ID.
func NewAuthParams(clientID string, authorityInfo Info) AuthParams {
	return AuthParams{
		ClientID:      clientID,
		AuthorityInfo: authorityInfo,
		Endpoints:     authorityInfo.Endpoints(),
		CorrelationID: uuid.New().String(),
	}
}

// AudienceQueryParam sets the version-appropriate audience parameter: resource= under
// v1, scope= under v2.
func (p AuthParams) AudienceQueryParam(qv url.Values) {
	if p.AuthorityInfo.Version == V1 {
		if p.Resource != "" {
			qv.Set("resource", p.Resource)
		}
		return
	}
	if len(p.Scopes) > 0 {
		qv.Set("scope", strings.Join(p.Scopes, " "))
	}
}
