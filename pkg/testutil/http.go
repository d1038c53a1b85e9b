// Package testutil holds helpers shared by the handler tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Call builds one request against a handler under test.
type Call struct {
	t      *testing.T
	method string
	path   string
	body   io.Reader
	header http.Header
}

// Request starts a call without a body.
func Request(t *testing.T, method, path string) *Call {
	t.Helper()
	return &Call{t: t, method: method, path: path, header: http.Header{}}
}

// JSON marshals v as the body. A nil v leaves the body empty.
func (c *Call) JSON(v any) *Call {
	c.t.Helper()
	if v == nil {
		return c
	}
	raw, err := json.Marshal(v)
	require.NoError(c.t, err, "marshal request body")
	c.body = bytes.NewReader(raw)
	c.header.Set("Content-Type", "application/json")
	return c
}

// Raw sends s untouched, for malformed payloads and UBL bodies.
func (c *Call) Raw(s string) *Call {
	c.body = strings.NewReader(s)
	return c
}

// Bearer sets the Authorization header unless token is empty.
func (c *Call) Bearer(token string) *Call {
	if token != "" {
		c.header.Set("Authorization", "Bearer "+token)
	}
	return c
}

// Header sets a header unless value is empty.
func (c *Call) Header(key, value string) *Call {
	if value != "" {
		c.header.Set(key, value)
	}
	return c
}

// Serve runs the call through h.
func (c *Call) Serve(h http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(c.method, c.path, c.body)
	for k, v := range c.header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// Decode unmarshals the response body into T.
func Decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "decode response %q", rr.Body.String())
	return out
}

// AssertError checks the status and the "error" code of an error body.
func AssertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, "status")
	assert.Equal(t, code, Decode[map[string]string](t, rr)["error"], "error code")
}
