// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/cran/AzureAuth/errors"
	"github.com/cran/AzureAuth/internal/oauth/ops/accesstokens"
)

// Managed identity token sources, in the order they are probed. App Service style
// bridges announce themselves through environment variables; IMDS is the fallback on
// plain VMs.
const (
	imdsEndpoint         = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion       = "2018-02-01"
	appServiceAPIVersion = "2019-08-01"
)

// ManagedIdentity obtains a token for resource from the host's managed identity
// endpoint. No tenant or client credential is involved. When no managed identity
// source can be reached the returned error wraps errors.ErrNotManagedIdentityHost,
// which is permanent; callers should not retry.
func (t *Client) ManagedIdentity(ctx context.Context, resource string) (accesstokens.TokenResponse, error) {
	endpoint, qv, headers := managedIdentityRequest(resource)

	resp, err := t.AccessTokens.FromManagedIdentity(ctx, endpoint, qv, headers)
	if err != nil {
		callErr := errors.CallErr{}
		if errors.As(err, &callErr) && callErr.Resp == nil {
			// The endpoint could not be dialed at all: not a managed-identity host.
			return accesstokens.TokenResponse{}, fmt.Errorf("%w: %v", errors.ErrNotManagedIdentityHost, callErr.Err)
		}
		return accesstokens.TokenResponse{}, err
	}
	return resp, nil
}

// managedIdentityRequest resolves the managed identity source for this host and
// builds the GET request pieces for it.
func managedIdentityRequest(resource string) (endpoint string, qv url.Values, headers http.Header) {
	qv = url.Values{}
	qv.Set("resource", resource)
	headers = http.Header{}

	// App Service / Container Apps (2019+ contract).
	if ep := os.Getenv("IDENTITY_ENDPOINT"); ep != "" {
		qv.Set("api-version", appServiceAPIVersion)
		headers.Set("X-IDENTITY-HEADER", os.Getenv("IDENTITY_HEADER"))
		return ep, qv, headers
	}
	// Legacy App Service contract.
	if ep := os.Getenv("MSI_ENDPOINT"); ep != "" {
		qv.Set("api-version", imdsAPIVersion)
		if secret := os.Getenv("MSI_SECRET"); secret != "" {
			headers.Set("Secret", secret)
		}
		return ep, qv, headers
	}

	qv.Set("api-version", imdsAPIVersion)
	headers.Set("Metadata", "true")
	return imdsEndpoint, qv, headers
}
