package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallPostsToV4Endpoint(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("reply-bytes"))
	}))
	defer srv.Close()

	tr := New(srv.URL, nil)
	resp, err := tr.Call(context.Background(), "aaaaa-bb", []byte("request-bytes"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if gotPath != "/api/v4/canister/aaaaa-bb/call" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotContentType != "application/cbor" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if string(gotBody) != "request-bytes" {
		t.Fatalf("body = %q", gotBody)
	}
	if resp.StatusCode != http.StatusAccepted || string(resp.Body) != "reply-bytes" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestReadStateEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	tr := New(srv.URL, nil)

	if _, err := tr.ReadCanisterState(context.Background(), "cid-1", nil); err != nil {
		t.Fatalf("ReadCanisterState: %v", err)
	}
	if _, err := tr.ReadSubnetState(context.Background(), "sid-1", nil); err != nil {
		t.Fatalf("ReadSubnetState: %v", err)
	}
	if _, err := tr.Query(context.Background(), "cid-1", nil); err != nil {
		t.Fatalf("Query: %v", err)
	}

	want := []string{
		"/api/v3/canister/cid-1/read_state",
		"/api/v3/subnet/sid-1/read_state",
		"/api/v3/canister/cid-1/query",
	}
	if len(paths) != len(want) {
		t.Fatalf("got %d requests, want %d", len(paths), len(want))
	}
	for i, p := range want {
		if paths[i] != p {
			t.Fatalf("path[%d] = %q, want %q", i, paths[i], p)
		}
	}
}
