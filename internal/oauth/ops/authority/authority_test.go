// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package authority

import (
	"net/url"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestNewInfo(t *testing.T) {
	tests := []struct {
		desc    string
		host    string
		tenant  string
		version Version
		err     bool
		want    Info
	}{
		{
			desc:    "defaults",
			version: V1,
			want:    Info{Host: "login.microsoftonline.com", Tenant: "common", Version: V1},
		},
		{
			desc:    "bare host and tenant",
			host:    "Login.MicrosoftOnline.US",
			tenant:  "MyTenant",
			version: V2,
			want:    Info{Host: "login.microsoftonline.us", Tenant: "mytenant", Version: V2},
		},
		{
			desc:    "https URL host",
			host:    "https://login.microsoftonline.de",
			tenant:  "mytenant",
			version: V1,
			want:    Info{Host: "login.microsoftonline.de", Tenant: "mytenant", Version: V1},
		},
		{desc: "http host rejected", host: "http://login.evil.example", tenant: "t", version: V1, err: true},
		{desc: "unknown version", version: Version(3), err: true},
	}

	for _, test := range tests {
		got, err := NewInfo(test.host, test.tenant, test.version)
		switch {
		case err == nil && test.err:
			t.Errorf("TestNewInfo(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestNewInfo(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}
		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Errorf("TestNewInfo(%s): -want/+got:\n%s", test.desc, diff)
		}
	}
}

func TestEndpoints(t *testing.T) {
	tests := []struct {
		desc string
		info Info
		want Endpoints
	}{
		{
			desc: "v1 shape",
			info: Info{Host: "login.microsoftonline.com", Tenant: "mytenant", Version: V1},
			want: Endpoints{
				AuthorizationEndpoint: "https://login.microsoftonline.com/mytenant/oauth2/authorize",
				TokenEndpoint:         "https://login.microsoftonline.com/mytenant/oauth2/token",
				DeviceCodeEndpoint:    "https://login.microsoftonline.com/mytenant/oauth2/devicecode",
			},
		},
		{
			desc: "v2 shape",
			info: Info{Host: "login.microsoftonline.com", Tenant: "common", Version: V2},
			want: Endpoints{
				AuthorizationEndpoint: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
				TokenEndpoint:         "https://login.microsoftonline.com/common/oauth2/v2.0/token",
				DeviceCodeEndpoint:    "https://login.microsoftonline.com/common/oauth2/v2.0/devicecode",
			},
		},
	}
	for _, test := range tests {
		if diff := pretty.Compare(test.want, test.info.Endpoints()); diff != "" {
			t.Errorf("TestEndpoints(%s): -want/+got:\n%s", test.desc, diff)
		}
	}
}

func TestAudienceQueryParam(t *testing.T) {
	v1 := AuthParams{
		AuthorityInfo: Info{Version: V1},
		Resource:      "https://management.azure.com/",
		Scopes:        []string{"ignored"},
	}
	qv := url.Values{}
	v1.AudienceQueryParam(qv)
	if got := qv.Get("resource"); got != "https://management.azure.com/" {
		t.Errorf("TestAudienceQueryParam: v1 resource: got %q", got)
	}
	if qv.Get("scope") != "" {
		t.Errorf("TestAudienceQueryParam: v1 request carried scope=")
	}

	v2 := AuthParams{
		AuthorityInfo: Info{Version: V2},
		Resource:      "ignored",
		Scopes:        []string{"a", "b"},
	}
	qv = url.Values{}
	v2.AudienceQueryParam(qv)
	if got := qv.Get("scope"); got != "a b" {
		t.Errorf("TestAudienceQueryParam: v2 scope: got %q, want %q", got, "a b")
	}
	if qv.Get("resource") != "" {
		t.Errorf("TestAudienceQueryParam: v2 request carried resource=")
	}
}

func TestAuthErr(t *testing.T) {
	if err := (OAuthResponseBase{}).AuthErr(); err != nil {
		t.Errorf("TestAuthErr: clean response produced %v", err)
	}
	base := OAuthResponseBase{Error: "invalid_client", ErrorDescription: "AADSTS7000215"}
	err := base.AuthErr()
	if err == nil {
		t.Fatalf("TestAuthErr: got err == nil, want err != nil")
	}
}

func TestNewAuthParams(t *testing.T) {
	info, err := NewInfo("", "mytenant", V2)
	if err != nil {
		t.Fatalf("TestNewAuthParams: NewInfo: %s", err)
	}
	params := NewAuthParams("client-id", info)
	if params.ClientID != "client-id" {
		t.Errorf("TestNewAuthParams: ClientID: got %q", params.ClientID)
	}
	if params.CorrelationID == "" {
		t.Errorf("TestNewAuthParams: CorrelationID not set")
	}
	if params.Endpoints.TokenEndpoint == "" {
		t.Errorf("TestNewAuthParams: endpoints not derived")
	}
}
