package traffic

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestAssembleRequest(t *testing.T) {
	req := NewRequest()
	req.Method = "POST"
	req.URL = "https://api.example.com/v1/items?x=1"
	req.Headers.Set("Content-Type", "application/json")
	req.Body = []byte(`{"a":1}`)

	raw := AssembleRequest(req)
	if !strings.HasPrefix(raw, "POST /v1/items?x=1 HTTP/1.1\r\n") {
		t.Fatalf("request line: %q", raw)
	}
	if !strings.Contains(raw, "host: api.example.com\r\n") {
		t.Fatalf("missing host header: %q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\n{\"a\":1}") {
		t.Fatalf("body not at end: %q", raw)
	}
}

func TestAssembleResponse(t *testing.T) {
	resp := NewResponse()
	resp.StatusCode = 404
	resp.Headers.Set("Content-Type", "text/plain")
	resp.Body = []byte("nope")

	raw := AssembleResponse(resp)
	if !strings.HasPrefix(raw, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("status line: %q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\nnope") {
		t.Fatalf("body: %q", raw)
	}
}

func TestParseRawRequestOriginForm(t *testing.T) {
	base, _ := url.Parse("https://api.example.com/old")
	raw := "PUT /v2/items/7?y=2 HTTP/1.1\nHost: api.example.com\nX-Edited: yes\nContent-Length: 999\n\nhello"

	req, err := ParseRawRequest([]byte(raw), base)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != "PUT" {
		t.Fatalf("method = %q", req.Method)
	}
	if req.URL != "https://api.example.com/v2/items/7?y=2" {
		t.Fatalf("url = %q", req.URL)
	}
	if req.Headers.Get("x-edited") != "yes" {
		t.Fatalf("headers = %v", req.Headers)
	}
	if req.Headers.Get("content-length") != "5" {
		t.Fatalf("content-length = %q, want 5", req.Headers.Get("content-length"))
	}
	if string(req.Body) != "hello" {
		t.Fatalf("body = %q", req.Body)
	}
}

func TestParseRawRequestAbsoluteForm(t *testing.T) {
	raw := "GET https://other.example.com/p?q=1 HTTP/2.0\r\nAccept: */*\r\n\r\n"
	req, err := ParseRawRequest([]byte(raw), nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.URL != "https://other.example.com/p?q=1" {
		t.Fatalf("url = %q", req.URL)
	}
	if req.Proto != "HTTP/2.0" {
		t.Fatalf("proto = %q, want HTTP/2.0", req.Proto)
	}
	if len(req.Body) != 0 {
		t.Fatalf("unexpected body %q", req.Body)
	}
}

func TestParseRawRequestErrors(t *testing.T) {
	if _, err := ParseRawRequest([]byte("  \n"), nil); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("err = %v, want ErrEmptyRequest", err)
	}
	if _, err := ParseRawRequest([]byte("not a request line"), nil); err == nil {
		t.Fatal("expected parse error")
	}
}
