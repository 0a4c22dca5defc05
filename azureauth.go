// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package azureauth acquires OAuth 2.0 tokens from Azure Active Directory and caches
them on disk so interactive logins survive process restarts.

A Client drives one of the grant flows for each request. Which flow is picked either
explicitly, by setting TokenRequest.AuthType, or deduced from which credential fields
the request carries:

	client := azureauth.New(
		azureauth.WithCache(cache.NewFileStore(dir)),
		azureauth.WithInteractive(true),
	)
	tok, err := client.Token(ctx, azureauth.TokenRequest{
		Resource: "https://management.azure.com/",
		Tenant:   "mytenant",
		ClientID: appID,
	})

Tokens are cached under a fingerprint of the request, so the same request in a later
process returns the cached token without reauthenticating, refreshing it first when
it has expired. Both Azure AD endpoint versions are supported; v1 requests name a
resource, v2 requests name scopes.

Confidential clients authenticate with a secret (TokenRequest.Password with no
username) or a certificate loaded via LoadCertificate. On Azure hosts,
AuthTypeManagedIdentity obtains tokens from the instance metadata service with no
credential at all.

Web applications that run the authorization redirect inside their own request cycle
build the authorize URI with AuthCodeURL, capture the code themselves, and finish the
exchange with Client.Token(..., WithAuthCode(code)).
*/
package azureauth
