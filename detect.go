// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package azureauth

import (
	"github.com/cran/AzureAuth/errors"
)

// detectAuthType deduces the grant flow from which credential fields are present,
// when the caller did not pick one. First match wins:
//
//  1. an on-behalf-of token selects on_behalf_of
//  2. a password or certificate with no username selects client_credentials
//  3. a username and password together select resource_owner
//  4. an interactive host selects authorization_code
//  5. otherwise device_code
//
// A certificate combined with a username but no password fits no flow and is a
// configuration error.
func detectAuthType(r TokenRequest, interactive bool) (AuthType, error) {
	if r.AuthType != AuthTypeAuto {
		return r.AuthType, nil
	}

	hasSecret := r.Password != ""
	hasCert := r.Certificate != nil

	switch {
	case r.OnBehalfOfToken != "":
		return AuthTypeOnBehalfOf, nil
	case (hasSecret || hasCert) && r.Username == "":
		return AuthTypeClientCredentials, nil
	case r.Username != "" && hasSecret:
		return AuthTypeResourceOwner, nil
	case r.Username != "" && hasCert:
		return AuthTypeAuto, &errors.ConfigError{
			Fields: []string{"username", "certificate"},
			Reason: "cannot deduce an auth flow from a certificate and a username without a password",
		}
	case interactive:
		return AuthTypeAuthCode, nil
	default:
		return AuthTypeDeviceCode, nil
	}
}
