// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package mock provides a sequenced fake HTTP client for testing endpoint calls.
package mock

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type response struct {
	body     []byte
	callback func(*http.Request)
	code     int
	headers  http.Header
}

type responseOption interface {
	apply(*response)
}

type respOpt func(*response)

func (fn respOpt) apply(r *response) {
	fn(r)
}

// WithBody sets the HTTP response's body to the specified value.
func WithBody(b []byte) responseOption {
	return respOpt(func(r *response) {
		r.body = b
	})
}

// WithCallback sets a callback to invoke before returning the response.
func WithCallback(callback func(*http.Request)) responseOption {
	return respOpt(func(r *response) {
		r.callback = callback
	})
}

// WithHTTPHeader sets the HTTP headers of the response to the specified value.
func WithHTTPHeader(header http.Header) responseOption {
	return respOpt(func(r *response) {
		r.headers = header
	})
}

// WithHTTPStatusCode sets the HTTP statusCode of response to the specified value.
func WithHTTPStatusCode(statusCode int) responseOption {
	return respOpt(func(r *response) {
		r.code = statusCode
	})
}

// Client is a mock HTTP client that returns a sequence of responses. Use
// AppendResponse to specify the sequence.
type Client struct {
	mu   sync.Mutex
	resp []response
}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) AppendResponse(opts ...responseOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := response{code: http.StatusOK, headers: http.Header{}}
	for _, o := range opts {
		o.apply(&r)
	}
	c.resp = append(c.resp, r)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.resp) == 0 {
		panic(fmt.Sprintf(`no response for "%s"`, req.URL.String()))
	}
	resp := c.resp[0]
	c.resp = c.resp[1:]
	if resp.callback != nil {
		resp.callback(req)
	}
	res := http.Response{Header: resp.headers, StatusCode: resp.code}
	res.Body = io.NopCloser(bytes.NewReader(resp.body))
	return &res, nil
}

// CloseIdleConnections implements the comm.HTTPClient interface.
func (*Client) CloseIdleConnections() {}

// TokenBody builds a token endpoint success body.
func TokenBody(accessToken, idToken, refreshToken string, expiresIn int) []byte {
	body := fmt.Sprintf(
		`{"access_token": "%s","expires_in": %d,"token_type": "Bearer"`,
		accessToken, expiresIn,
	)
	if idToken != "" {
		body += fmt.Sprintf(`, "id_token": "%s"`, idToken)
	}
	if refreshToken != "" {
		body += fmt.Sprintf(`, "refresh_token": "%s"`, refreshToken)
	}
	body += "}"
	return []byte(body)
}

// ErrorBody builds a token endpoint error body.
func ErrorBody(code, description string) []byte {
	return []byte(fmt.Sprintf(`{"error": "%s","error_description": "%s"}`, code, description))
}

// DeviceCodeBody builds a device code endpoint success body.
func DeviceCodeBody(deviceCode, userCode, verificationURI string, expiresIn, interval int) []byte {
	return []byte(fmt.Sprintf(
		`{"device_code": "%s","user_code": "%s","verification_uri": "%s","expires_in": %d,"interval": %d,"message": "open %s and enter %s"}`,
		deviceCode, userCode, verificationURI, expiresIn, interval, verificationURI, userCode,
	))
}

// IDToken builds an unsigned JWT carrying typical ID token claims.
func IDToken(tenant, issuer, username string) string {
	now := time.Now().Unix()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(
		`{"aud": "%s","exp": %d,"iat": %d,"iss": "%s","tid": "%s","preferred_username": "%s"}`,
		tenant, now+3600, now, issuer, tenant, username,
	)))
	return fmt.Sprintf("%s.%s.", header, payload)
}
