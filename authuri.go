// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package azureauth

import (
	"net/url"
	"strings"

	"github.com/cran/AzureAuth/internal/oauth/ops/authority"
)

// AuthCodeURL builds the authorize-endpoint URI that starts an authorization-code
// flow for req. It is a pure function of its inputs: host applications that run the
// redirect step inside their own request cycle (web apps, hosted UIs) can call it
// directly, send the user there, capture the code themselves and finish with
// Client.Token(..., WithAuthCode(code)).
//
// state, when non-empty, is echoed back by the authority on the redirect; supply a
// random value and verify it to tie the redirect to this request.
func AuthCodeURL(req TokenRequest, state string) (string, error) {
	nreq, _, err := normalizeRequest(req)
	if err != nil {
		return "", err
	}

	info, err := authority.NewInfo(nreq.AuthorityHost, nreq.Tenant, authority.Version(nreq.Version))
	if err != nil {
		return "", err
	}

	v := url.Values{}
	for k, vals := range nreq.AuthorizeArgs {
		v[k] = append([]string(nil), vals...)
	}
	v.Set("client_id", nreq.ClientID)
	v.Set("response_type", "code")
	if nreq.RedirectURI != "" {
		v.Set("redirect_uri", nreq.RedirectURI)
	}
	if state != "" {
		v.Set("state", state)
	}
	if info.Version == authority.V1 {
		v.Set("resource", nreq.Resource)
	} else {
		v.Set("scope", strings.Join(nreq.Scopes, " "))
	}

	return info.Endpoints().AuthorizationEndpoint + "?" + v.Encode(), nil
}
