// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package azureauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	"github.com/cran/AzureAuth/cache"
	"github.com/cran/AzureAuth/errors"
	"github.com/cran/AzureAuth/internal/local"
	"github.com/cran/AzureAuth/internal/oauth"
	"github.com/cran/AzureAuth/internal/oauth/ops/accesstokens"
	"github.com/cran/AzureAuth/internal/oauth/ops/authority"
)

// defaultRedirectURI is where the interactive flow listens when the request does not
// name a redirect URI. The port matches the common local-listener registration for
// native apps.
const defaultRedirectURI = "http://localhost:1410"

// defaultListenTimeout bounds how long the interactive flow waits for the user to
// come back through the browser redirect.
const defaultListenTimeout = 2 * time.Minute

// HTTPClient represents an HTTP client. It's usually an *http.Client from the
// standard library.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
	CloseIdleConnections()
}

// Client acquires, caches and refreshes tokens. The zero value is not usable;
// construct with New.
//
// One acquisition runs on the calling goroutine; a Client is safe for concurrent use,
// but two concurrent acquisitions of the same uncached request will each drive a flow
// (at-least-once acquisition, not at-most-once).
type Client struct {
	flows *oauth.Client
	store cache.Store
	log   zerolog.Logger

	interactive   bool
	listenTimeout time.Duration
	prompt        func(message string)

	// warned tracks which scopes we've already reported as defaulted, so the
	// /.default warning fires once per scope.
	warnMu sync.Mutex
	warned map[string]bool
}

// Options configures a Client's behavior.
type Options struct {
	// Store persists tokens across processes. Nil disables caching entirely.
	Store cache.Store
	// HTTPClient overrides the transport used for every endpoint call.
	HTTPClient HTTPClient
	// Logger receives warnings and debug traces. Defaults to a no-op logger.
	Logger zerolog.Logger
	// Interactive marks this process as able to open a browser, making
	// authorization_code the preferred fallback flow over device_code. Resolve it
	// once at process start.
	Interactive bool
	// ListenTimeout bounds the redirect-capture wait in the interactive flow.
	ListenTimeout time.Duration
	// DeviceCodePrompt receives the user instruction message of the device code
	// flow. Defaults to printing on stderr.
	DeviceCodePrompt func(message string)
}

// Option is an optional argument to New.
type Option func(*Options)

// WithCache persists tokens in store, keyed by request fingerprint.
func WithCache(store cache.Store) Option {
	return func(o *Options) { o.Store = store }
}

// WithHTTPClient sets the HTTP client used for every endpoint call.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *Options) { o.HTTPClient = client }
}

// WithLogger sets the logger warnings and debug traces are written to.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithInteractive marks the process as able (or unable) to open a browser.
func WithInteractive(interactive bool) Option {
	return func(o *Options) { o.Interactive = interactive }
}

// WithListenTimeout bounds the redirect-capture wait in the interactive flow.
func WithListenTimeout(d time.Duration) Option {
	return func(o *Options) { o.ListenTimeout = d }
}

// WithDeviceCodePrompt sets the function that surfaces the device-code instructions
// to the user.
func WithDeviceCodePrompt(prompt func(message string)) Option {
	return func(o *Options) { o.DeviceCodePrompt = prompt }
}

// New is the constructor for Client.
func New(options ...Option) *Client {
	opts := Options{
		Logger:        zerolog.Nop(),
		ListenTimeout: defaultListenTimeout,
	}
	for _, o := range options {
		o(&opts)
	}
	if opts.DeviceCodePrompt == nil {
		opts.DeviceCodePrompt = func(message string) {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	return &Client{
		flows:         oauth.New(opts.HTTPClient),
		store:         opts.Store,
		log:           opts.Logger,
		interactive:   opts.Interactive,
		listenTimeout: opts.ListenTimeout,
		prompt:        opts.DeviceCodePrompt,
		warned:        map[string]bool{},
	}
}

// acquireOptions are the per-call options of Token.
type acquireOptions struct {
	skipCache bool
	authCode  string
}

// AcquireOption changes the behavior of a single Token call.
type AcquireOption func(*acquireOptions)

// WithoutCache makes this acquisition bypass the cache in both directions.
func WithoutCache() AcquireOption {
	return func(o *acquireOptions) { o.skipCache = true }
}

// WithAuthCode supplies an authorization code captured by the host application, so
// the authorization_code flow skips the browser and local listener and goes straight
// to the code exchange. Pair with AuthCodeURL.
func WithAuthCode(code string) AcquireOption {
	return func(o *acquireOptions) { o.authCode = code }
}

// Token acquires a token for req: from the cache when a valid record exists, by
// refresh when the cached record is expired but refreshable, and by driving the
// request's grant flow otherwise. A fresh result is written to the cache before it is
// returned.
func (c *Client) Token(ctx context.Context, req TokenRequest, options ...AcquireOption) (*Token, error) {
	opts := acquireOptions{}
	for _, o := range options {
		o(&opts)
	}

	nreq, err := c.normalize(req)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(nreq); err != nil {
		return nil, err
	}

	fp := nreq.Fingerprint()
	useCache := c.store != nil && !opts.skipCache

	if useCache {
		if tok := c.cachedToken(fp); tok != nil {
			if tok.Valid() {
				c.log.Debug().Str("fingerprint", fp).Msg("returning cached token")
				return tok, nil
			}
			if tok.RefreshToken != "" {
				if fresh, err := c.refreshToken(ctx, nreq, tok); err == nil {
					c.storeToken(fp, fresh)
					return fresh, nil
				} else {
					c.log.Debug().Err(err).Msg("cached token refresh failed, reacquiring")
				}
			}
		}
	}

	tr, err := c.acquire(ctx, nreq, opts)
	if err != nil {
		return nil, err
	}
	tok := newToken(nreq, tr)
	if useCache {
		c.storeToken(fp, tok)
	}
	return tok, nil
}

// Refresh produces a new token record for t. With a refresh token present it uses the
// refresh_token grant; a failure there is surfaced, not papered over with a silent
// reacquisition. Without one it reruns the original grant flow, which may require
// interaction again. The new record replaces t's cache entry; t itself is unchanged.
func (c *Client) Refresh(ctx context.Context, t *Token) (*Token, error) {
	nreq, err := c.normalize(t.Request)
	if err != nil {
		return nil, err
	}

	if t.RefreshToken != "" {
		fresh, err := c.refreshToken(ctx, nreq, t)
		if err != nil {
			return nil, err
		}
		if c.store != nil {
			c.storeToken(nreq.Fingerprint(), fresh)
		}
		return fresh, nil
	}

	tr, err := c.acquire(ctx, nreq, acquireOptions{})
	if err != nil {
		return nil, err
	}
	fresh := newToken(nreq, tr)
	if c.store != nil {
		c.storeToken(nreq.Fingerprint(), fresh)
	}
	return fresh, nil
}

// Tokens lists every token record in the cache. Unreadable records are skipped with a
// warning rather than failing the listing.
func (c *Client) Tokens() ([]*Token, error) {
	if c.store == nil {
		return nil, &errors.ConfigError{Reason: "client has no token cache configured"}
	}
	fps, err := c.store.List()
	if err != nil {
		return nil, err
	}
	toks := make([]*Token, 0, len(fps))
	for _, fp := range fps {
		data, err := c.store.Get(fp)
		if err != nil {
			c.log.Warn().Err(err).Str("fingerprint", fp).Msg("skipping unreadable cache record")
			continue
		}
		tok := &Token{}
		if err := json.Unmarshal(data, tok); err != nil {
			c.log.Warn().Err(err).Str("fingerprint", fp).Msg("skipping undecodable cache record")
			continue
		}
		toks = append(toks, tok)
	}
	return toks, nil
}

// Delete removes the cached record for req, if any.
func (c *Client) Delete(req TokenRequest) error {
	if c.store == nil {
		return &errors.ConfigError{Reason: "client has no token cache configured"}
	}
	nreq, err := c.normalize(req)
	if err != nil {
		return err
	}
	return c.store.Delete(nreq.Fingerprint())
}

// Clear removes every cached record.
func (c *Client) Clear() error {
	if c.store == nil {
		return &errors.ConfigError{Reason: "client has no token cache configured"}
	}
	return c.store.Clear()
}

// normalize canonicalizes req, resolves its grant flow and reports each scope
// defaulted to /.default exactly once over the client's lifetime. The redirect URI is
// defaulted here so that it lands in the fingerprint: an empty URI and an explicit
// default must share a cache entry.
func (c *Client) normalize(req TokenRequest) (TokenRequest, error) {
	nreq, defaulted, err := normalizeRequest(req)
	if err != nil {
		return nreq, err
	}
	nreq.AuthType, err = detectAuthType(nreq, c.interactive)
	if err != nil {
		return nreq, err
	}
	if nreq.AuthType == AuthTypeAuthCode && nreq.RedirectURI == "" {
		nreq.RedirectURI = defaultRedirectURI
	}
	for _, scope := range defaulted {
		c.warnMu.Lock()
		seen := c.warned[scope]
		c.warned[scope] = true
		c.warnMu.Unlock()
		if !seen {
			c.log.Warn().Str("scope", scope).Msgf("scope %q has no path; requesting %s/.default", scope, scope)
		}
	}
	return nreq, nil
}

func validateRequest(r TokenRequest) error {
	if r.AuthType != AuthTypeManagedIdentity && r.ClientID == "" {
		return &errors.ConfigError{Fields: []string{"client_id"}, Reason: "a client (application) ID is required"}
	}
	return nil
}

// cachedToken loads the record for fp. Any read or decode failure degrades to a cache
// miss with a warning; the caller falls back to reacquisition.
func (c *Client) cachedToken(fp string) *Token {
	data, err := c.store.Get(fp)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			c.log.Warn().Err(err).Str("fingerprint", fp).Msg("cache read failed, treating as miss")
		}
		return nil
	}
	tok := &Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		c.log.Warn().Err(err).Str("fingerprint", fp).Msg("cache record undecodable, treating as miss")
		return nil
	}
	return tok
}

// storeToken writes the record before the caller sees it. A write failure is logged
// and does not invalidate the in-memory token being returned.
func (c *Client) storeToken(fp string, tok *Token) {
	data, err := json.Marshal(tok)
	if err != nil {
		c.log.Warn().Err(err).Str("fingerprint", fp).Msg("token record not serializable, not cached")
		return
	}
	if err := c.store.Put(fp, data); err != nil {
		c.log.Warn().Err(err).Str("fingerprint", fp).Msg("cache write failed, token not persisted")
	}
}

// refreshToken exchanges t's refresh token for a new record under nreq. nreq may name
// a different resource or scope than the token was issued for; that is the
// cross-resource exchange.
func (c *Client) refreshToken(ctx context.Context, nreq TokenRequest, t *Token) (*Token, error) {
	params, err := authParamsFor(nreq)
	if err != nil {
		return nil, err
	}
	params.AuthorizationType = authority.ATRefreshToken

	tr, err := c.flows.Refresh(ctx, params, credentialFor(nreq), t.RefreshToken)
	if err != nil {
		return nil, err
	}
	fresh := newToken(nreq, tr)
	if fresh.RefreshToken == "" {
		// The STS only returns a refresh token when it rotates it.
		fresh.RefreshToken = t.RefreshToken
	}
	return fresh, nil
}

// acquire dispatches to the grant flow driver named by nreq.AuthType.
func (c *Client) acquire(ctx context.Context, nreq TokenRequest, opts acquireOptions) (accesstokens.TokenResponse, error) {
	if nreq.AuthType == AuthTypeManagedIdentity {
		return c.flows.ManagedIdentity(ctx, managedIdentityResource(nreq))
	}

	params, err := authParamsFor(nreq)
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}

	switch nreq.AuthType {
	case AuthTypeClientCredentials:
		params.AuthorizationType = authority.ATClientCredentials
		cred := credentialFor(nreq)
		if cred == nil {
			return accesstokens.TokenResponse{}, &errors.ConfigError{
				Fields: []string{"password", "certificate"},
				Reason: "client_credentials requires a client secret or a certificate",
			}
		}
		return c.flows.Credential(ctx, params, cred)

	case AuthTypeResourceOwner:
		params.AuthorizationType = authority.ATUsernamePassword
		return c.flows.UsernamePassword(ctx, params)

	case AuthTypeOnBehalfOf:
		params.AuthorizationType = authority.ATOnBehalfOf
		return c.flows.OnBehalfOf(ctx, params)

	case AuthTypeDeviceCode:
		params.AuthorizationType = authority.ATDeviceCode
		return c.deviceCode(ctx, params)

	case AuthTypeAuthCode:
		params.AuthorizationType = authority.ATAuthCode
		if opts.authCode != "" {
			return c.flows.AuthCode(ctx, accesstokens.AuthCodeRequest{
				AuthParams: params,
				Code:       opts.authCode,
				Credential: credentialFor(nreq),
			})
		}
		return c.interactiveAuthCode(ctx, nreq, params)

	default:
		return accesstokens.TokenResponse{}, &errors.ConfigError{
			Fields: []string{"auth_type"},
			Reason: fmt.Sprintf("no flow driver for auth type %s", nreq.AuthType),
		}
	}
}

// deviceCode runs the device code flow: request a code, surface the instructions,
// poll until the user completes or the code expires.
func (c *Client) deviceCode(ctx context.Context, params authority.AuthParams) (accesstokens.TokenResponse, error) {
	dc, err := c.flows.DeviceCode(ctx, params)
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}
	message := dc.Result.Message
	if message == "" {
		message = fmt.Sprintf("To sign in, use a web browser to open the page %s and enter the code %s to authenticate.", dc.Result.VerificationURL, dc.Result.UserCode)
	}
	c.prompt(message)
	return dc.Token(ctx)
}

// interactiveAuthCode runs the standalone authorization code flow: start the local
// listener, open the browser at the authorize endpoint, wait for the redirect, then
// exchange the captured code. The listener is torn down on every path out.
func (c *Client) interactiveAuthCode(ctx context.Context, nreq TokenRequest, params authority.AuthParams) (accesstokens.TokenResponse, error) {
	port, err := redirectPort(nreq.RedirectURI)
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}

	state := uuid.New().String()
	srv, err := local.New(state, port)
	if err != nil {
		return accesstokens.TokenResponse{}, fmt.Errorf("could not start the redirect listener: %w", err)
	}
	defer srv.Shutdown()

	authURL, err := AuthCodeURL(nreq, state)
	if err != nil {
		return accesstokens.TokenResponse{}, err
	}
	c.log.Debug().Str("url", authURL).Msg("opening browser for authorization")
	if err := browser.OpenURL(authURL); err != nil {
		// No usable browser; tell the user where to go instead of failing.
		c.prompt(fmt.Sprintf("Open this URL in a browser to authenticate:\n%s", authURL))
	}

	wait := ctx
	if c.listenTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, c.listenTimeout)
		defer cancel()
	}
	res := srv.Result(wait)
	if res.Err != nil {
		if errors.Is(res.Err, context.DeadlineExceeded) {
			return accesstokens.TokenResponse{}, &errors.TimeoutError{Op: "authorization redirect", Err: res.Err}
		}
		return accesstokens.TokenResponse{}, res.Err
	}

	return c.flows.AuthCode(ctx, accesstokens.AuthCodeRequest{
		AuthParams: params,
		Code:       res.Code,
		Credential: credentialFor(nreq),
	})
}

// redirectPort extracts the port the local listener must bind from the redirect URI.
func redirectPort(redirectURI string) (int, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return 0, &errors.ConfigError{Fields: []string{"redirect_uri"}, Reason: fmt.Sprintf("redirect URI %q cannot be parsed: %v", redirectURI, err)}
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return 0, &errors.ConfigError{Fields: []string{"redirect_uri"}, Reason: fmt.Sprintf("redirect URI %q has a bad port: %v", redirectURI, err)}
		}
		return port, nil
	}
	return 80, nil
}

// authParamsFor maps the public request onto the internal authorization parameters.
func authParamsFor(nreq TokenRequest) (authority.AuthParams, error) {
	info, err := authority.NewInfo(nreq.AuthorityHost, nreq.Tenant, authority.Version(nreq.Version))
	if err != nil {
		return authority.AuthParams{}, err
	}
	params := authority.NewAuthParams(nreq.ClientID, info)
	params.Resource = nreq.Resource
	params.Scopes = nreq.Scopes
	params.Username = nreq.Username
	params.Password = nreq.Password
	params.Redirecturi = nreq.RedirectURI
	params.UserAssertion = nreq.OnBehalfOfToken
	return params, nil
}

// credentialFor builds the confidential-client credential for the request, or nil for
// public clients.
func credentialFor(nreq TokenRequest) *accesstokens.Credential {
	if nreq.Certificate != nil {
		return &accesstokens.Credential{Cert: nreq.Certificate, Key: nreq.PrivateKey}
	}
	// A password with a username is the resource owner's, not the client's.
	if nreq.Password != "" && nreq.Username == "" {
		return &accesstokens.Credential{Secret: nreq.Password}
	}
	return nil
}

// managedIdentityResource flattens the request audience to the single resource string
// the managed identity endpoints accept.
func managedIdentityResource(nreq TokenRequest) string {
	if nreq.Resource != "" {
		return nreq.Resource
	}
	if len(nreq.Scopes) > 0 {
		// Managed identity endpoints speak v1 resources.
		return strings.TrimSuffix(nreq.Scopes[0], "/.default")
	}
	return ""
}
