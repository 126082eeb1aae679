package recorder

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowgate/internal/logger"
	"flowgate/internal/storage"
	"flowgate/pkg/traffic"
)

func newRecorder(t *testing.T) (*Recorder, *storage.RequestRepo) {
	t.Helper()
	ns := storage.NewNamespaces(filepath.Join(t.TempDir(), "projects"), storage.Options{})
	t.Cleanup(func() { ns.Close() })
	repo := storage.NewRequestRepo(ns)
	return New(repo, logger.NewNop()), repo
}

func request(id string) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = id
	req.Method = "POST"
	req.URL = "https://api.example.test/v1/items?x=1"
	req.Body = []byte(`{"a":1}`)
	return req
}

func response(code int) *traffic.Response {
	resp := traffic.NewResponse()
	resp.StatusCode = code
	resp.Headers.Set("content-type", "application/json")
	resp.Body = []byte(`{"ok":true}`)
	return resp
}

func TestRoundTrip(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := start
	r.now = func() time.Time { return clock }

	if err := r.OnRequest(ctx, "alpha", request("f1")); err != nil {
		t.Fatal(err)
	}
	rows, _ := repo.List(ctx, "alpha", 10)
	if len(rows) != 1 || rows[0].CompletedAt != nil || rows[0].StatusCode != nil {
		t.Fatalf("rows = %+v", rows)
	}
	if !strings.HasPrefix(rows[0].RawRequest, "POST /v1/items?x=1 HTTP/1.1\r\n") {
		t.Fatalf("raw request = %q", rows[0].RawRequest)
	}

	clock = start.Add(250 * time.Millisecond)
	if err := r.OnResponse(ctx, "alpha", "f1", response(201)); err != nil {
		t.Fatal(err)
	}
	row, err := repo.Get(ctx, "alpha", rows[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.StatusCode == nil || *row.StatusCode != 201 {
		t.Fatalf("status = %v", row.StatusCode)
	}
	if row.DurationMS == nil || *row.DurationMS != 250 {
		t.Fatalf("duration = %v", row.DurationMS)
	}
	if row.CompletedAt == nil || !row.CompletedAt.After(row.Timestamp) {
		t.Fatalf("completed_at = %v timestamp = %v", row.CompletedAt, row.Timestamp)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending = %d", r.Pending())
	}

	// 重复的响应不会再次完成记录
	if err := r.OnResponse(ctx, "alpha", "f1", response(500)); err != nil {
		t.Fatal(err)
	}
	row, _ = repo.Get(ctx, "alpha", rows[0].ID)
	if *row.StatusCode != 201 {
		t.Fatalf("status overwritten: %d", *row.StatusCode)
	}
}

func TestUntimedResponseUsesFallbackProject(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()
	if err := r.OnRequest(ctx, "alpha", request("f9")); err != nil {
		t.Fatal(err)
	}
	// 模拟进程重启：内存中的映射丢失
	r.mu.Lock()
	r.pending = map[string]pendingRow{}
	r.mu.Unlock()

	if err := r.OnResponse(ctx, "alpha", "f9", response(200)); err != nil {
		t.Fatal(err)
	}
	rows, _ := repo.FindByFlow(ctx, "alpha", "f9")
	if len(rows) != 1 || rows[0].StatusCode == nil || rows[0].DurationMS != nil {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestNoProjectIsNoop(t *testing.T) {
	r, _ := newRecorder(t)
	ctx := context.Background()
	if err := r.OnRequest(ctx, "", request("f1")); err != nil {
		t.Fatal(err)
	}
	if err := r.OnResponse(ctx, "", "f1", response(200)); err != nil {
		t.Fatal(err)
	}
	if r.Pending() != 0 {
		t.Fatal("pending without project")
	}
}

func TestDiscardIgnoresLaterResponse(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()
	_ = r.OnRequest(ctx, "alpha", request("f2"))
	r.Discard("f2")
	if err := r.OnResponse(ctx, "alpha", "f2", response(200)); err != nil {
		t.Fatal(err)
	}
	rows, _ := repo.FindByFlow(ctx, "alpha", "f2")
	if len(rows) != 1 || rows[0].CompletedAt != nil {
		t.Fatalf("dropped flow completed: %+v", rows)
	}
}

func TestErrorLeavesRowIncomplete(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()
	_ = r.OnRequest(ctx, "alpha", request("f3"))
	r.OnError(ctx, "f3", "net::ERR_CONNECTION_RESET")
	if r.Pending() != 0 {
		t.Fatal("mapping kept after error")
	}
	rows, _ := repo.FindByFlow(ctx, "alpha", "f3")
	if len(rows) != 1 || rows[0].CompletedAt != nil || rows[0].RawResponse != nil {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestDiscardBeforeRecordLeavesNoPending(t *testing.T) {
	r, repo := newRecorder(t)
	ctx := context.Background()
	r.Discard("f4")
	if err := r.OnRequest(ctx, "alpha", request("f4")); err != nil {
		t.Fatal(err)
	}
	if r.Pending() != 0 {
		t.Fatalf("pending = %d, want 0 for a dropped flow", r.Pending())
	}
	if err := r.OnResponse(ctx, "alpha", "f4", response(200)); err != nil {
		t.Fatal(err)
	}
	rows, _ := repo.FindByFlow(ctx, "alpha", "f4")
	if len(rows) != 1 || rows[0].CompletedAt != nil {
		t.Fatalf("dropped flow completed: %+v", rows)
	}
	if r.Discarded() != 0 {
		t.Fatalf("discard marker kept after response: %d", r.Discarded())
	}
}

func TestDiscardMarkersExpire(t *testing.T) {
	r, _ := newRecorder(t)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.Discard("old")
	if r.Discarded() != 1 {
		t.Fatalf("discarded = %d", r.Discarded())
	}
	clock = clock.Add(discardTTL + time.Second)
	r.Discard("new")
	if r.Discarded() != 1 {
		t.Fatalf("expired marker not swept: %d", r.Discarded())
	}
}
