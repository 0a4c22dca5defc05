// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package comm provides helpers for communicating with HTTP backends. Form-encoded
// requests and JSON responses are the two shapes the AAD endpoints use, so that is
// all this package speaks.
package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/cran/AzureAuth/errors"
	"github.com/cran/AzureAuth/internal/oauth/ops/authority"
)

// HTTPClient represents an HTTP client.
// It's usually an *http.Client from the standard library.
type HTTPClient interface {
	// Do sends the HTTP request, returning the HTTP response or error.
	Do(req *http.Request) (*http.Response, error)

	// CloseIdleConnections closes any idle connections in a "keep-alive" state.
	CloseIdleConnections()
}

// Client provides JSON and form-encoded calls to HTTP backends.
type Client struct {
	client HTTPClient
}

// New returns a Client. A nil httpClient selects a pooled client with sane defaults.
func New(httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	return &Client{client: httpClient}
}

// JSONCall makes an HTTP call to endpoint with the given values and decodes the JSON
// response into resp, which must be a pointer to a struct. A nil body makes a GET
// request, otherwise body is JSON-encoded and POSTed.
func (c *Client) JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) error {
	if qv == nil {
		qv = url.Values{}
	}

	v := reflect.ValueOf(resp)
	if err := c.checkResp(v); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}
	u.RawQuery = qv.Encode()

	addStdHeaders(headers)

	req := &http.Request{Method: http.MethodGet, URL: u, Header: headers}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bug: conn.JSONCall(): could not marshal the body object: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(data))
		req.Method = http.MethodPost
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if resp != nil {
		if err := json.Unmarshal(data, resp); err != nil {
			return fmt.Errorf("json decode error: %w\nraw message was: %s", err, string(data))
		}
	}
	return nil
}

// URLFormCall makes an HTTP call to endpoint with the form-encoded values in qv as the
// POST body and decodes the JSON response into resp.
func (c *Client) URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp interface{}) error {
	if len(qv) == 0 {
		return fmt.Errorf("URLFormCall() requires qv to have non-zero length")
	}

	if err := c.checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}

	headers := http.Header{}
	addStdHeaders(headers)
	headers.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	enc := qv.Encode()
	req := &http.Request{
		Method:        http.MethodPost,
		URL:           u,
		Header:        headers,
		ContentLength: int64(len(enc)),
		Body:          io.NopCloser(strings.NewReader(enc)),
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(enc)), nil
		},
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if resp != nil {
		if err := json.Unmarshal(data, resp); err != nil {
			return fmt.Errorf("json decode error: %w\nraw message was: %s", err, string(data))
		}
	}
	return nil
}

// do makes the HTTP call to the server and returns the contents of the body.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)

	reply, err := c.client.Do(req)
	if err != nil {
		return nil, errors.CallErr{
			Req:  req,
			Resp: reply,
			Err:  fmt.Errorf("server response error:\n %w", err),
		}
	}
	defer reply.Body.Close()

	data, err := io.ReadAll(reply.Body)
	if err != nil {
		return nil, errors.CallErr{
			Req:  req,
			Resp: reply,
			Err:  fmt.Errorf("could not read the body of an HTTP Response: %w", err),
		}
	}

	// NOTE: AAD endpoints return errors as 400s with OAuth error details in the JSON
	// body. Surface those as typed AuthErrors so that flows (device-code polling
	// especially) can act on the provider's error code.
	if reply.StatusCode < 200 || reply.StatusCode > 299 {
		if authErr := providerError(data); authErr != nil {
			return nil, errors.CallErr{Req: req, Resp: reply, Err: authErr}
		}
		return nil, errors.CallErr{
			Req:  req,
			Resp: reply,
			Err:  fmt.Errorf("reply status code was %d:\n%s", reply.StatusCode, string(data)),
		}
	}

	return data, nil
}

// providerError extracts a typed AuthError from an error response body, or nil if the
// body does not carry one.
func providerError(data []byte) error {
	base := authority.OAuthResponseBase{}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil
	}
	return base.AuthErr()
}

// checkResp validates that resp is a pointer to a struct.
func (c *Client) checkResp(v reflect.Value) error {
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("bug: resp argument must be a *struct, was %T", v.Interface())
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("bug: resp argument must be a *struct, was %T", v.Interface())
	}
	return nil
}

// testID is set during testing to give a constant client-request-id.
var testID string

// addStdHeaders adds the standard headers the AAD endpoints expect on every call.
func addStdHeaders(headers http.Header) http.Header {
	headers.Set("Accept", "application/json")

	id := testID
	if id == "" {
		id = uuid.New().String()
	}
	headers.Set("client-request-id", id)
	headers.Set("return-client-request-id", "false")

	headers.Set("x-client-sku", "AzureAuth.Go")
	headers.Set("x-client-os", runtime.GOOS)
	return headers
}
