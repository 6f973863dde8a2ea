// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by ops commands.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// opsClient provides HTTP access to a running feedfuse daemon's ops API.
type opsClient struct {
	baseURL string
	http    *http.Client
}

// newOpsClient creates a client targeting the given host:port address.
func newOpsClient(addr string) *opsClient {
	return &opsClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *opsClient) getJSON(path string, dest any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return c.wrapTransport(err)
	}
	return c.decode(resp, dest)
}

// postJSON performs a POST with a JSON body and decodes the response.
func (c *opsClient) postJSON(path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fferr.Wrap(err, fferr.CodeCLIRequestFailure, "encoding request body")
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return c.wrapTransport(err)
	}
	return c.decode(resp, dest)
}

func (c *opsClient) wrapTransport(err error) error {
	if isDialError(err) {
		return fferr.Wrap(err, fferr.CodeCLIGatewayNotRunning,
			"feedfuse daemon is not running (connection refused)")
	}
	return fferr.Wrap(err, fferr.CodeCLIRequestFailure, "request failed")
}

func (c *opsClient) decode(resp *http.Response, dest any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fferr.Errorf(fferr.CodeCLIRequestFailure,
			"daemon returned status %d: %s", resp.StatusCode, string(body))
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fferr.Wrap(err, fferr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
