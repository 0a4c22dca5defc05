// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package azureauth

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestFingerprintStable(t *testing.T) {
	req := TokenRequest{
		Resource: "https://management.azure.com/",
		Tenant:   "mytenant",
		ClientID: "id",
		Password: "hunter2",
	}
	if got, want := req.Fingerprint(), req.Fingerprint(); got != want {
		t.Errorf("TestFingerprintStable: same request fingerprinted differently: %s vs %s", got, want)
	}
	cp := req.clone()
	if got, want := cp.Fingerprint(), req.Fingerprint(); got != want {
		t.Errorf("TestFingerprintStable: clone fingerprinted differently: %s vs %s", got, want)
	}
}

func TestFingerprintDiverges(t *testing.T) {
	base := TokenRequest{
		Resource: "https://management.azure.com/",
		Tenant:   "mytenant",
		ClientID: "id",
	}

	tests := []struct {
		desc   string
		change func(r *TokenRequest)
	}{
		{"resource", func(r *TokenRequest) { r.Resource = "https://graph.microsoft.com/" }},
		{"tenant", func(r *TokenRequest) { r.Tenant = "othertenant" }},
		{"client id", func(r *TokenRequest) { r.ClientID = "other" }},
		{"auth type", func(r *TokenRequest) { r.AuthType = AuthTypeDeviceCode }},
		{"username", func(r *TokenRequest) { r.Username = "user@mytenant" }},
		{"password", func(r *TokenRequest) { r.Password = "hunter2" }},
		{"scopes", func(r *TokenRequest) { r.Scopes = []string{"https://graph.microsoft.com/.default"} }},
		{"version", func(r *TokenRequest) { r.Version = 2 }},
		{"authority host", func(r *TokenRequest) { r.AuthorityHost = "login.microsoftonline.us" }},
		{"redirect uri", func(r *TokenRequest) { r.RedirectURI = "http://localhost:8100" }},
		{"on behalf of token", func(r *TokenRequest) { r.OnBehalfOfToken = "assertion" }},
		{"authorize args", func(r *TokenRequest) { r.AuthorizeArgs = url.Values{"prompt": []string{"login"}} }},
	}

	want := base.Fingerprint()
	for _, test := range tests {
		changed := base.clone()
		test.change(&changed)
		if got := changed.Fingerprint(); got == want {
			t.Errorf("TestFingerprintDiverges(%s): fingerprint did not change", test.desc)
		}
	}
}

func TestFingerprintScopeBoundaries(t *testing.T) {
	// Scope boundaries must survive the digest framing: two scopes and one scope
	// containing the old separator byte are different requests.
	a := TokenRequest{Version: 2, Scopes: []string{"a", "b"}}
	b := TokenRequest{Version: 2, Scopes: []string{"a\x1fb"}}
	if a.Fingerprint() == b.Fingerprint() {
		t.Errorf("TestFingerprintScopeBoundaries: scope list framing is not injective")
	}
	c := TokenRequest{Version: 2, Scopes: []string{"ab", ""}}
	d := TokenRequest{Version: 2, Scopes: []string{"a", "b"}}
	if c.Fingerprint() == d.Fingerprint() {
		t.Errorf("TestFingerprintScopeBoundaries: scope content leaked across boundaries")
	}
}

func TestFingerprintAuthorizeArgsOrder(t *testing.T) {
	a := TokenRequest{
		Resource:      "res",
		AuthorizeArgs: url.Values{"a": []string{"1"}, "b": []string{"2"}},
	}
	b := TokenRequest{
		Resource:      "res",
		AuthorizeArgs: url.Values{"b": []string{"2"}, "a": []string{"1"}},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("TestFingerprintAuthorizeArgsOrder: map insertion order changed the fingerprint")
	}
}

func TestNormalizeRequest(t *testing.T) {
	tests := []struct {
		desc          string
		req           TokenRequest
		err           bool
		want          TokenRequest
		wantDefaulted []string
	}{
		{
			desc: "v1 defaults from a bare resource",
			req:  TokenRequest{Resource: "https://management.azure.com/"},
			want: TokenRequest{
				Resource:      "https://management.azure.com/",
				Tenant:        "common",
				Version:       1,
				AuthorityHost: "login.microsoftonline.com",
			},
		},
		{
			desc: "scopes imply version 2",
			req:  TokenRequest{Scopes: []string{"https://graph.microsoft.com/.default"}},
			want: TokenRequest{
				Scopes:        []string{"https://graph.microsoft.com/.default"},
				Tenant:        "common",
				Version:       2,
				AuthorityHost: "login.microsoftonline.com",
			},
		},
		{
			desc: "v2 converts a lone resource to a scope",
			req:  TokenRequest{Version: 2, Resource: "https://graph.microsoft.com/.default"},
			want: TokenRequest{
				Scopes:        []string{"https://graph.microsoft.com/.default"},
				Tenant:        "common",
				Version:       2,
				AuthorityHost: "login.microsoftonline.com",
			},
		},
		{
			desc: "v2 appends /.default to a bare resource scope",
			req:  TokenRequest{Version: 2, Scopes: []string{"https://graph.microsoft.com", "openid"}},
			want: TokenRequest{
				Scopes:        []string{"https://graph.microsoft.com/.default", "openid"},
				Tenant:        "common",
				Version:       2,
				AuthorityHost: "login.microsoftonline.com",
			},
			wantDefaulted: []string{"https://graph.microsoft.com"},
		},
		{
			desc: "v2 appends /.default to a bare GUID scope",
			req:  TokenRequest{Version: 2, Scopes: []string{"6f9e7e2a-41ce-4a0f-835f-c5b6e09abc4f"}},
			want: TokenRequest{
				Scopes:        []string{"6f9e7e2a-41ce-4a0f-835f-c5b6e09abc4f/.default"},
				Tenant:        "common",
				Version:       2,
				AuthorityHost: "login.microsoftonline.com",
			},
			wantDefaulted: []string{"6f9e7e2a-41ce-4a0f-835f-c5b6e09abc4f"},
		},
		{
			desc: "explicit fields survive",
			req: TokenRequest{
				Resource:      "res",
				Tenant:        "mytenant",
				Version:       1,
				AuthorityHost: "login.microsoftonline.us",
			},
			want: TokenRequest{
				Resource:      "res",
				Tenant:        "mytenant",
				Version:       1,
				AuthorityHost: "login.microsoftonline.us",
			},
		},
		{desc: "v1 without a resource", req: TokenRequest{Version: 1}, err: true},
		{desc: "v2 without scopes", req: TokenRequest{Version: 2}, err: true},
		{desc: "unknown version", req: TokenRequest{Version: 3, Resource: "res"}, err: true},
	}

	for _, test := range tests {
		got, defaulted, err := normalizeRequest(test.req)
		switch {
		case err == nil && test.err:
			t.Errorf("TestNormalizeRequest(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestNormalizeRequest(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if diff := pretty.Compare(test.want, got); diff != "" {
			t.Errorf("TestNormalizeRequest(%s): -want/+got:\n%s", test.desc, diff)
		}
		if diff := pretty.Compare(test.wantDefaulted, defaulted); diff != "" {
			t.Errorf("TestNormalizeRequest(%s): defaulted scopes: -want/+got:\n%s", test.desc, diff)
		}
	}
}

func TestNormalizeRequestDoesNotMutate(t *testing.T) {
	req := TokenRequest{Version: 2, Scopes: []string{"https://graph.microsoft.com"}}
	if _, _, err := normalizeRequest(req); err != nil {
		t.Fatalf("TestNormalizeRequestDoesNotMutate: got err == %s, want err == nil", err)
	}
	if req.Scopes[0] != "https://graph.microsoft.com" {
		t.Errorf("TestNormalizeRequestDoesNotMutate: caller's scope slice was rewritten to %q", req.Scopes[0])
	}
}

func TestNormalizeScope(t *testing.T) {
	tests := []struct {
		scope    string
		want     string
		appended bool
	}{
		{"https://graph.microsoft.com", "https://graph.microsoft.com/.default", true},
		{"https://graph.microsoft.com/", "https://graph.microsoft.com/.default", true},
		{"https://graph.microsoft.com/.default", "https://graph.microsoft.com/.default", false},
		{"https://graph.microsoft.com/User.Read", "https://graph.microsoft.com/User.Read", false},
		{"6f9e7e2a-41ce-4a0f-835f-c5b6e09abc4f", "6f9e7e2a-41ce-4a0f-835f-c5b6e09abc4f/.default", true},
		{"openid", "openid", false},
		{"offline_access", "offline_access", false},
		{"profile", "profile", false},
		{"email", "email", false},
	}
	for _, test := range tests {
		got, appended := normalizeScope(test.scope)
		if got != test.want || appended != test.appended {
			t.Errorf("TestNormalizeScope(%s): got (%q, %v), want (%q, %v)", test.scope, got, appended, test.want, test.appended)
		}
	}
}

func TestTokenRequestJSONRoundTrip(t *testing.T) {
	req := TokenRequest{
		Resource:      "https://management.azure.com/",
		Tenant:        "mytenant",
		ClientID:      "id",
		Version:       1,
		AuthType:      AuthTypeClientCredentials,
		Password:      "hunter2",
		AuthorizeArgs: url.Values{"prompt": []string{"login"}},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("TestTokenRequestJSONRoundTrip: Marshal: %s", err)
	}
	got := TokenRequest{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("TestTokenRequestJSONRoundTrip: Unmarshal: %s", err)
	}
	if diff := pretty.Compare(req, got); diff != "" {
		t.Errorf("TestTokenRequestJSONRoundTrip: -want/+got:\n%s", diff)
	}
}

func TestAuthTypeJSON(t *testing.T) {
	data, err := json.Marshal(AuthTypeDeviceCode)
	if err != nil {
		t.Fatalf("TestAuthTypeJSON: Marshal: %s", err)
	}
	if string(data) != `"device_code"` {
		t.Errorf("TestAuthTypeJSON: got %s, want %q", data, `"device_code"`)
	}

	var at AuthType
	if err := json.Unmarshal([]byte(`"managed_identity"`), &at); err != nil {
		t.Fatalf("TestAuthTypeJSON: Unmarshal: %s", err)
	}
	if at != AuthTypeManagedIdentity {
		t.Errorf("TestAuthTypeJSON: got %v, want %v", at, AuthTypeManagedIdentity)
	}

	if err := json.Unmarshal([]byte(`"carrier_pigeon"`), &at); err == nil {
		t.Errorf("TestAuthTypeJSON: unknown name decoded without error")
	}
}

func TestCloneIsolation(t *testing.T) {
	req := TokenRequest{
		Scopes:        []string{"a"},
		AuthorizeArgs: url.Values{"k": []string{"v"}},
	}
	cp := req.clone()
	cp.Scopes[0] = "b"
	cp.AuthorizeArgs.Set("k", "w")

	if req.Scopes[0] != "a" {
		t.Errorf("TestCloneIsolation: mutating the clone's scopes changed the original")
	}
	if req.AuthorizeArgs.Get("k") != "v" {
		t.Errorf("TestCloneIsolation: mutating the clone's authorize args changed the original")
	}
}
