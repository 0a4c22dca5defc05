// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package azureauth

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cran/AzureAuth/errors"
	"github.com/cran/AzureAuth/internal/oauth/ops/accesstokens"
	"github.com/cran/AzureAuth/internal/oauth/ops/authority"
)

// AuthType selects the OAuth grant flow used to acquire a token. The zero value asks
// the client to deduce the flow from which credential fields are set.
type AuthType int

const (
	AuthTypeAuto AuthType = iota
	AuthTypeAuthCode
	AuthTypeDeviceCode
	AuthTypeClientCredentials
	AuthTypeResourceOwner
	AuthTypeOnBehalfOf
	AuthTypeManagedIdentity
)

var authTypeNames = map[AuthType]string{
	AuthTypeAuto:              "auto",
	AuthTypeAuthCode:          "authorization_code",
	AuthTypeDeviceCode:        "device_code",
	AuthTypeClientCredentials: "client_credentials",
	AuthTypeResourceOwner:     "resource_owner",
	AuthTypeOnBehalfOf:        "on_behalf_of",
	AuthTypeManagedIdentity:   "managed_identity",
}

func (a AuthType) String() string {
	if s, ok := authTypeNames[a]; ok {
		return s
	}
	return fmt.Sprintf("AuthType(%d)", int(a))
}

// MarshalJSON encodes the AuthType by name, so serialized records stay readable as
// new flows are added.
func (a AuthType) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AuthType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for at, s := range authTypeNames {
		if s == name {
			*a = at
			return nil
		}
	}
	return fmt.Errorf("unknown auth type %q", name)
}

// TokenRequest is the full set of parameters a token is requested with. It is the unit
// of cache identity: the fingerprint of every (normalized) field, credential material
// included, keys the token cache.
type TokenRequest struct {
	// Resource is the v1 audience, a URL or GUID.
	Resource string `json:"resource,omitempty"`
	// Scopes is the v2 scope set.
	Scopes []string `json:"scopes,omitempty"`

	Tenant   string `json:"tenant,omitempty"`
	ClientID string `json:"client_id,omitempty"`

	// Version selects the AAD endpoint generation, 1 or 2. Zero picks 2 when Scopes
	// is set, 1 otherwise.
	Version int `json:"version,omitempty"`

	AuthType AuthType `json:"auth_type,omitempty"`

	Username string `json:"username,omitempty"`
	// Password is the user password in the resource-owner flow and the client secret
	// everywhere else.
	Password string `json:"password,omitempty"`

	// Certificate and PrivateKey authenticate the client by signed JWT assertion.
	// The private key is never serialized; reloading a cached record that needs the
	// key to reauthenticate requires supplying it again.
	Certificate *x509.Certificate `json:"-"`
	PrivateKey  crypto.PrivateKey `json:"-"`

	// OnBehalfOfToken is the prior access token exchanged in the on-behalf-of flow.
	OnBehalfOfToken string `json:"on_behalf_of_token,omitempty"`

	// RedirectURI is where the authorization-code redirect lands. Defaults to
	// http://localhost:1410.
	RedirectURI string `json:"redirect_uri,omitempty"`

	// AuthorizeArgs are extra query arguments added to the authorize endpoint URI.
	AuthorizeArgs url.Values `json:"authorize_args,omitempty"`

	// AuthorityHost overrides the AAD host, for sovereign clouds. Defaults to
	// login.microsoftonline.com.
	AuthorityHost string `json:"authority_host,omitempty"`
}

// Fingerprint returns the cache key for the request: a SHA-256 digest over every
// field, stable across processes. Two field-wise equal requests fingerprint
// identically; a request differing in any field, secrets included, diverges.
func (r TokenRequest) Fingerprint() string {
	h := sha256.New()
	// Values are length-prefixed so field content can never collide with the framing.
	field := func(name, value string) {
		fmt.Fprintf(h, "%s\x1e%d\x1f%s", name, len(value), value)
	}
	field("version", strconv.Itoa(r.Version))
	field("authority", r.AuthorityHost)
	field("tenant", r.Tenant)
	field("client_id", r.ClientID)
	field("auth_type", r.AuthType.String())
	field("resource", r.Resource)
	for _, s := range r.Scopes {
		field("scope", s)
	}
	field("username", r.Username)
	field("password", r.Password)
	if r.Certificate != nil {
		field("certificate", hex.EncodeToString(accesstokens.Thumbprint(r.Certificate)))
	}
	field("on_behalf_of", r.OnBehalfOfToken)
	field("redirect_uri", r.RedirectURI)
	if len(r.AuthorizeArgs) > 0 {
		// url.Values.Encode sorts by key, so the digest is order-independent.
		field("authorize_args", r.AuthorizeArgs.Encode())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// clone returns a deep copy sharing no mutable state with r. The certificate and key
// are shared by reference; both are treated as immutable throughout this library.
func (r TokenRequest) clone() TokenRequest {
	cp := r
	if r.Scopes != nil {
		cp.Scopes = append([]string(nil), r.Scopes...)
	}
	if r.AuthorizeArgs != nil {
		cp.AuthorizeArgs = url.Values{}
		for k, v := range r.AuthorizeArgs {
			cp.AuthorizeArgs[k] = append([]string(nil), v...)
		}
	}
	return cp
}

// tokenRequestJSON adds the serializable certificate form to the wire encoding.
type tokenRequestJSON struct {
	// requestAlias breaks the MarshalJSON recursion.
	requestAlias
	CertificateDER []byte `json:"certificate,omitempty"`
}

type requestAlias TokenRequest

// MarshalJSON implements json.Marshaler, encoding the certificate as raw DER so a
// cached record round-trips it.
func (r TokenRequest) MarshalJSON() ([]byte, error) {
	out := tokenRequestJSON{requestAlias: requestAlias(r)}
	if r.Certificate != nil {
		out.CertificateDER = r.Certificate.Raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *TokenRequest) UnmarshalJSON(data []byte) error {
	in := tokenRequestJSON{}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = TokenRequest(in.requestAlias)
	if len(in.CertificateDER) > 0 {
		cert, err := x509.ParseCertificate(in.CertificateDER)
		if err != nil {
			return fmt.Errorf("cached request has an unparseable certificate: %w", err)
		}
		r.Certificate = cert
	}
	return nil
}

// normalizeRequest fills defaults and canonicalizes the audience fields. It returns
// the normalized copy plus the v2 scopes that had /.default appended, so the caller
// can warn about them.
func normalizeRequest(r TokenRequest) (TokenRequest, []string, error) {
	r = r.clone()

	if r.Version == 0 {
		if len(r.Scopes) > 0 {
			r.Version = 2
		} else {
			r.Version = 1
		}
	}
	if r.Version != 1 && r.Version != 2 {
		return r, nil, &errors.ConfigError{Fields: []string{"version"}, Reason: fmt.Sprintf("unknown AAD endpoint version %d", r.Version)}
	}
	if r.Tenant == "" {
		r.Tenant = "common"
	}
	if r.AuthorityHost == "" {
		r.AuthorityHost = authority.DefaultHost
	}

	var defaulted []string
	switch r.Version {
	case 1:
		if r.Resource == "" {
			return r, nil, &errors.ConfigError{Fields: []string{"resource"}, Reason: "the v1 endpoint requires a resource"}
		}
	case 2:
		if len(r.Scopes) == 0 && r.Resource != "" {
			r.Scopes = []string{r.Resource}
			r.Resource = ""
		}
		if len(r.Scopes) == 0 {
			return r, nil, &errors.ConfigError{Fields: []string{"scopes"}, Reason: "the v2 endpoint requires at least one scope"}
		}
		for i, s := range r.Scopes {
			scope, appended := normalizeScope(s)
			r.Scopes[i] = scope
			if appended {
				defaulted = append(defaulted, s)
			}
		}
	}
	return r, defaulted, nil
}

// openid scopes pass through normalization untouched.
var passthroughScopes = map[string]bool{
	"openid":         true,
	"offline_access": true,
	"profile":        true,
	"email":          true,
}

// normalizeScope appends /.default to a v2 scope that names a bare resource (a URL or
// GUID with no path segment). Reports whether it did.
func normalizeScope(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if passthroughScopes[s] {
		return s, false
	}
	trimmed := strings.TrimSuffix(s, "/")
	rest := trimmed
	if i := strings.Index(trimmed, "://"); i >= 0 {
		rest = trimmed[i+3:]
	}
	if strings.Contains(rest, "/") {
		return s, false
	}
	return trimmed + "/.default", true
}
