// Package transport is the external-collaborator boundary for the four
// replica HTTP endpoints the request engine drives. It knows
// nothing about certificates, signatures, or CBOR semantics beyond the
// content type; everything it returns is opaque bytes for the caller to
// decode.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const cborContentType = "application/cbor"

// Response is a transport-level reply: status code plus body bytes. A
// 200 from /call carries a reply certificate; a 202 means polling is
// required; both are returned here without interpretation.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport posts CBOR request bodies to a replica and returns raw CBOR
// response bodies, over the replica's four HTTP endpoints.
type Transport interface {
	Call(ctx context.Context, canisterID string, body []byte) (Response, error)
	ReadCanisterState(ctx context.Context, canisterID string, body []byte) (Response, error)
	ReadSubnetState(ctx context.Context, subnetID string, body []byte) (Response, error)
	Query(ctx context.Context, canisterID string, body []byte) (Response, error)
}

// HTTPTransport is the default net/http-based Transport implementation.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// New constructs an HTTPTransport against baseURL (the replica's root,
// e.g. "https://ic0.app"), using http.DefaultClient's timeout policy
// unless client is given.
func New(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{BaseURL: baseURL, Client: client}
}

// Call posts to POST /api/v4/canister/<id>/call.
func (t *HTTPTransport) Call(ctx context.Context, canisterID string, body []byte) (Response, error) {
	return t.post(ctx, "/api/v4/canister/"+url.PathEscape(canisterID)+"/call", body)
}

// ReadCanisterState posts to POST /api/v3/canister/<id>/read_state.
func (t *HTTPTransport) ReadCanisterState(ctx context.Context, canisterID string, body []byte) (Response, error) {
	return t.post(ctx, "/api/v3/canister/"+url.PathEscape(canisterID)+"/read_state", body)
}

// ReadSubnetState posts to POST /api/v3/subnet/<id>/read_state.
func (t *HTTPTransport) ReadSubnetState(ctx context.Context, subnetID string, body []byte) (Response, error) {
	return t.post(ctx, "/api/v3/subnet/"+url.PathEscape(subnetID)+"/read_state", body)
}

// Query posts to POST /api/v3/canister/<id>/query.
func (t *HTTPTransport) Query(ctx context.Context, canisterID string, body []byte) (Response, error) {
	return t.post(ctx, "/api/v3/canister/"+url.PathEscape(canisterID)+"/query", body)
}

func (t *HTTPTransport) post(ctx context.Context, path string, body []byte) (Response, error) {
	endpoint, err := url.Parse(t.BaseURL)
	if err != nil {
		return Response{}, fmt.Errorf("transport: invalid base URL: %w", err)
	}
	endpoint.Path = path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", cborContentType)
	req.Header.Set("Accept", cborContentType)

	resp, err := t.Client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("transport: %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("transport: read response body: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
