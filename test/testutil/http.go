// Package testutil holds fastglue request/response helpers shared by
// handler tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
)

// NewJSONRequest creates a fastglue request with a JSON body for testing.
func NewJSONRequest(t *testing.T, body any) *fastglue.Request {
	t.Helper()

	ctx := &fasthttp.RequestCtx{}
	// Init wires up the internal server reference so the ctx works as a
	// context.Context (Done/Err) outside a running fasthttp server.
	ctx.Init(&fasthttp.Request{}, nil, nil)
	ctx.Request.Header.SetContentType("application/json")
	ctx.Request.Header.SetMethod("POST")

	if body != nil {
		jsonData, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		ctx.Request.SetBody(jsonData)
	}

	return &fastglue.Request{RequestCtx: ctx}
}

// NewGETRequest creates a fastglue GET request for testing.
func NewGETRequest(t *testing.T) *fastglue.Request {
	t.Helper()

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&fasthttp.Request{}, nil, nil)
	ctx.Request.Header.SetMethod("GET")

	return &fastglue.Request{RequestCtx: ctx}
}

// SetQueryParam sets a query parameter on the request.
func SetQueryParam(req *fastglue.Request, key string, value any) {
	req.RequestCtx.QueryArgs().Set(key, fmt.Sprintf("%v", value))
}

// SetPathParam sets a path parameter (user value) on the request.
func SetPathParam(req *fastglue.Request, key string, value any) {
	req.RequestCtx.SetUserValue(key, value)
}

// GetResponseStatusCode returns the response status code.
func GetResponseStatusCode(req *fastglue.Request) int {
	return req.RequestCtx.Response.StatusCode()
}

// GetResponseCookie reads a Set-Cookie value from the response by name.
func GetResponseCookie(req *fastglue.Request, name string) string {
	var value string
	req.RequestCtx.Response.Header.VisitAllCookie(func(key, val []byte) {
		c := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(c)
		if err := c.ParseBytes(val); err == nil && string(c.Key()) == name {
			value = string(c.Value())
		}
	})
	return value
}

// APIEnvelope represents the standard fastglue API response envelope.
type APIEnvelope struct {
	Status    string          `json:"status"`
	Message   *string         `json:"message,omitempty"`
	ErrorType *string         `json:"error_type,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// ParseEnvelopeResponse parses the response as an API envelope and
// unmarshals the data into target when non-nil.
func ParseEnvelopeResponse(t *testing.T, req *fastglue.Request, target any) APIEnvelope {
	t.Helper()

	var envelope APIEnvelope
	err := json.Unmarshal(req.RequestCtx.Response.Body(), &envelope)
	require.NoError(t, err, "failed to parse JSON response: %s", req.RequestCtx.Response.Body())

	if target != nil && envelope.Data != nil {
		err := json.Unmarshal(envelope.Data, target)
		require.NoError(t, err, "failed to parse envelope data")
	}
	return envelope
}

// AssertErrorResponse asserts that the response is an error envelope
// with the expected status code and message fragment.
func AssertErrorResponse(t *testing.T, req *fastglue.Request, expectedStatus int, expectedMessage string) {
	t.Helper()

	require.Equal(t, expectedStatus, GetResponseStatusCode(req), "unexpected status code")

	envelope := ParseEnvelopeResponse(t, req, nil)
	require.Equal(t, "error", envelope.Status, "expected error status")
	require.NotNil(t, envelope.Message, "expected message in envelope")
	require.Contains(t, *envelope.Message, expectedMessage, "error message mismatch")
}
