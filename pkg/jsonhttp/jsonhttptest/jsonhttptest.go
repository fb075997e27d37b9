// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jsonhttptest issues requests against a debug API server and
// checks the responses.
package jsonhttptest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/ethersphere/replica/pkg/jsonhttp"
	"github.com/google/go-cmp/cmp"
)

// Request sends a request and fails the test if the response does not
// match the expectations of the options. Every response body of the debug
// API is JSON, so it is decoded before any expectation is checked. The
// response headers are returned.
func Request(t *testing.T, client *http.Client, method, url string, responseCode int, opts ...Option) http.Header {
	t.Helper()

	o := new(options)
	for _, opt := range opts {
		if err := opt(o); err != nil {
			t.Fatal(err)
		}
	}

	req, err := http.NewRequest(method, url, o.requestBody)
	if err != nil {
		t.Fatal(err)
	}
	if o.requestBody != nil {
		req.Header.Set("Content-Type", jsonhttp.DefaultContentTypeHeader)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != responseCode {
		t.Errorf("%s %s: got response status %s, want %v %s", method, url, resp.Status, responseCode, http.StatusText(responseCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if o.expected != nil || o.unmarshal != nil {
			t.Errorf("%s %s: got empty response body", method, url)
		}
		return resp.Header
	}
	if v := resp.Header.Get("Content-Type"); v != jsonhttp.DefaultContentTypeHeader {
		t.Errorf("%s %s: got content type %q, want %q", method, url, v, jsonhttp.DefaultContentTypeHeader)
	}

	if o.expected != nil {
		var got interface{}
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("%s %s: decode response %s: %v", method, url, body, err)
		}
		want, err := normalize(o.expected(responseCode))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s %s: response mismatch (-want +got):\n%s", method, url, diff)
		}
	}

	if o.unmarshal != nil {
		if err := json.Unmarshal(body, o.unmarshal); err != nil {
			t.Fatalf("%s %s: decode response %s: %v", method, url, body, err)
		}
	}
	return resp.Header
}

// normalize turns a value into the generic form json.Unmarshal produces,
// so that structs, maps and slices compare equal to the decoded response.
func normalize(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode expected response: %w", err)
	}
	var n interface{}
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	return n, nil
}

// Option configures a request and the expectations on its response.
type Option func(*options) error

type options struct {
	requestBody io.Reader
	expected    func(code int) interface{}
	unmarshal   interface{}
}

// WithJSONRequestBody sends the JSON encoding of r as the request body.
func WithJSONRequestBody(r interface{}) Option {
	return func(o *options) error {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("json encode request body: %w", err)
		}
		o.requestBody = bytes.NewReader(b)
		return nil
	}
}

// WithExpectedJSONResponse expects a body with the same JSON encoding as
// response.
func WithExpectedJSONResponse(response interface{}) Option {
	return func(o *options) error {
		o.expected = func(int) interface{} { return response }
		return nil
	}
}

// WithExpectedMessage expects a status response with the message and the
// code of the request.
func WithExpectedMessage(message string) Option {
	return func(o *options) error {
		o.expected = func(code int) interface{} {
			return jsonhttp.StatusResponse{Message: message, Code: code}
		}
		return nil
	}
}

// WithUnmarshalResponse decodes the response body into response.
func WithUnmarshalResponse(response interface{}) Option {
	return func(o *options) error {
		o.unmarshal = response
		return nil
	}
}
