package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

const pausedJSON = `{
	"requestId": "interception-job-7.0",
	"networkId": "1000.42",
	"request": {
		"url": "https://shop.example.test/cart?id=9",
		"method": "POST",
		"headers": {"Content-Type": "application/x-www-form-urlencoded", ":authority": "shop.example.test"},
		"postData": "a=1&b=2"
	}
}`

func pausedRequest() *fetch.RequestPausedReply {
	var ev fetch.RequestPausedReply
	if err := json.Unmarshal([]byte(pausedJSON), &ev); err != nil {
		panic(err)
	}
	return &ev
}

func TestToRequest(t *testing.T) {
	req := ToRequest(pausedRequest())
	if req.ID != "1000.42" {
		t.Fatalf("id = %q", req.ID)
	}
	if req.Method != "POST" || string(req.Body) != "a=1&b=2" {
		t.Fatalf("req = %+v", req)
	}
	if req.Headers.Get("content-type") != "application/x-www-form-urlencoded" {
		t.Fatalf("headers = %v", req.Headers)
	}
	if _, ok := req.Headers[":authority"]; ok {
		t.Fatal("pseudo header kept")
	}
	if req.Headers.Get("host") != "shop.example.test" {
		t.Fatalf("host = %q", req.Headers.Get("host"))
	}
}

func TestFlowIDFallsBackToRequestID(t *testing.T) {
	ev := pausedRequest()
	ev.NetworkID = nil
	if got := FlowID(ev); got != "interception-job-7.0" {
		t.Fatalf("flow id = %q", got)
	}
}

func TestToResponseAndBody(t *testing.T) {
	code, text := 404, "Not Found"
	ev := &fetch.RequestPausedReply{
		ResponseStatusCode: &code,
		ResponseStatusText: &text,
		ResponseHeaders:    []fetch.HeaderEntry{{Name: "Content-Type", Value: "text/plain"}},
	}
	if !IsResponseStage(ev) {
		t.Fatal("response stage not detected")
	}
	body, err := DecodeBody("aGVsbG8=", true)
	if err != nil || string(body) != "hello" {
		t.Fatalf("body = %q, %v", body, err)
	}
	resp := ToResponse(ev, body)
	if resp.StatusCode != 404 || resp.Status != "Not Found" || resp.Headers.Get("content-type") != "text/plain" {
		t.Fatalf("resp = %+v", resp)
	}
}

type recordingFetch struct {
	cont []*fetch.ContinueRequestArgs
	fail []*fetch.FailRequestArgs
	err  error
}

func (r *recordingFetch) ContinueRequest(_ context.Context, a *fetch.ContinueRequestArgs) error {
	r.cont = append(r.cont, a)
	return r.err
}

func (r *recordingFetch) FailRequest(_ context.Context, a *fetch.FailRequestArgs) error {
	r.fail = append(r.fail, a)
	return r.err
}

func TestFlowReplacement(t *testing.T) {
	rf := &recordingFetch{}
	f := newFlow(rf, pausedRequest(), time.Second)
	if err := f.Hold(); err != nil || !f.Held() {
		t.Fatalf("hold: %v", err)
	}
	raw := "PUT /cart/9?x=1 HTTP/1.1\nHost: shop.example.test\nX-Edited: yes\nContent-Length: 99\n\n{\"qty\":3}"
	if err := f.ResumeWithReplacement([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	if len(rf.cont) != 1 {
		t.Fatalf("continue calls = %d", len(rf.cont))
	}
	a := rf.cont[0]
	if a.RequestID != "interception-job-7.0" {
		t.Fatalf("request id = %q", a.RequestID)
	}
	if *a.Method != "PUT" || *a.URL != "https://shop.example.test/cart/9?x=1" {
		t.Fatalf("method/url = %s %s", *a.Method, *a.URL)
	}
	if string(a.PostData) != `{"qty":3}` {
		t.Fatalf("post data = %q", a.PostData)
	}
	for _, h := range a.Headers {
		if h.Name == "content-length" || h.Name == "host" {
			t.Fatalf("managed header forwarded: %v", h)
		}
	}
	if len(a.Headers) != 1 || a.Headers[0].Name != "x-edited" {
		t.Fatalf("headers = %+v", a.Headers)
	}

	if err := f.Resume(); !errors.Is(err, ErrSettled) {
		t.Fatalf("second settle err = %v", err)
	}
}

func TestFlowReplacementParseErrorKeepsFlowOpen(t *testing.T) {
	rf := &recordingFetch{}
	f := newFlow(rf, pausedRequest(), time.Second)
	if err := f.ResumeWithReplacement([]byte("   ")); err == nil {
		t.Fatal("expected parse error")
	}
	if err := f.Resume(); err != nil {
		t.Fatalf("resume after failed replacement: %v", err)
	}
	if len(rf.cont) != 1 || rf.cont[0].URL != nil {
		t.Fatalf("continue = %+v", rf.cont)
	}
}

func TestFlowKill(t *testing.T) {
	rf := &recordingFetch{}
	f := newFlow(rf, pausedRequest(), time.Second)
	if err := f.Kill(); err != nil {
		t.Fatal(err)
	}
	if len(rf.fail) != 1 || rf.fail[0].ErrorReason != network.ErrorReasonAborted {
		t.Fatalf("fail = %+v", rf.fail)
	}
	if err := f.Hold(); !errors.Is(err, ErrSettled) {
		t.Fatalf("hold after kill err = %v", err)
	}
}

func TestSelectTarget(t *testing.T) {
	targets := []*devtool.Target{
		{ID: "sw", Type: "service_worker", URL: "https://a.test/sw.js"},
		{ID: "p1", Type: devtool.Page, URL: "https://a.test/"},
		{ID: "p2", Type: devtool.Page, URL: "https://b.test/admin"},
	}
	if got, _ := SelectTarget(targets, ""); got.ID != "p1" {
		t.Fatalf("default = %s", got.ID)
	}
	if got, _ := SelectTarget(targets, "b.test/admin"); got.ID != "p2" {
		t.Fatalf("by url = %s", got.ID)
	}
	if _, err := SelectTarget(targets, "missing"); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("err = %v", err)
	}
}
