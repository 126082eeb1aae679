package scope

import (
	"testing"

	"flowgate/pkg/traffic"
)

func newReq(method, u string) *traffic.Request {
	r := traffic.NewRequest()
	r.Method = method
	r.URL = u
	return r
}

func TestEmptyConfigMatchesEverything(t *testing.T) {
	m, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match(newReq("GET", "https://a.example/x")) {
		t.Fatal("empty scope must match")
	}
	if !MatchAll().Match(nil) {
		t.Fatal("MatchAll must match nil request")
	}
}

func TestURLAndMethod(t *testing.T) {
	m, err := New(Config{
		AllOf: []Condition{
			{Type: "url", Pattern: "https://api.example.com/*"},
			{Type: "method", Values: []string{"post", "put"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		method, url string
		want        bool
	}{
		{"POST", "https://api.example.com/items", true},
		{"GET", "https://api.example.com/items", false},
		{"PUT", "https://cdn.example.com/a.js", false},
	}
	for _, c := range cases {
		if got := m.Match(newReq(c.method, c.url)); got != c.want {
			t.Errorf("%s %s: got %v, want %v", c.method, c.url, got, c.want)
		}
	}
}

func TestNoneOfExcludesStaticAssets(t *testing.T) {
	m, err := New(Config{
		NoneOf: []Condition{{Type: "url", Mode: "regex", Pattern: `\.(js|css|png)(\?|$)`}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.Match(newReq("GET", "https://a.example/app.js?v=3")) {
		t.Fatal("static asset should be out of scope")
	}
	if !m.Match(newReq("GET", "https://a.example/api/me")) {
		t.Fatal("api call should be in scope")
	}
}

func TestHeaderCookieQueryJSON(t *testing.T) {
	m, err := New(Config{
		AnyOf: []Condition{
			{Type: "header", Key: "X-Debug", Op: "equals", Value: "1"},
			{Type: "cookie", Key: "session", Op: "contains", Value: "admin"},
			{Type: "query", Key: "token"},
			{Type: "json", Path: "user.role", Op: "regex", Value: "^(root|admin)$"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := newReq("GET", "https://a.example/x")
	if m.Match(r) {
		t.Fatal("plain request should not match")
	}

	r.Headers.Set("X-Debug", "1")
	if !m.Match(r) {
		t.Fatal("header should match")
	}

	r = newReq("GET", "https://a.example/x")
	r.Headers.Set("Cookie", "a=b; session=xx-admin-yy")
	if !m.Match(r) {
		t.Fatal("cookie should match")
	}

	if !m.Match(newReq("GET", "https://a.example/x?TOKEN=abc")) {
		t.Fatal("query presence should match")
	}

	r = newReq("POST", "https://a.example/x")
	r.Body = []byte(`{"user":{"role":"admin"}}`)
	if !m.Match(r) {
		t.Fatal("json path should match")
	}
	r.Body = []byte(`not json`)
	if m.Match(r) {
		t.Fatal("invalid json must not match")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{AllOf: []Condition{{Type: "url", Mode: "regex", Pattern: "("}}}); err == nil {
		t.Fatal("expected regex compile error")
	}
	if _, err := New(Config{AllOf: []Condition{{Type: "bogus"}}}); err == nil {
		t.Fatal("expected unknown type error")
	}
	if _, err := New(Config{AllOf: []Condition{{Type: "json"}}}); err == nil {
		t.Fatal("expected missing path error")
	}
}
