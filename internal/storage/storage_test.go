package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"
)

func openTestMain(t *testing.T) (*gorm.DB, *Namespaces) {
	t.Helper()
	dir := t.TempDir()
	db, err := OpenMain(filepath.Join(dir, "main.db"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ns := NewNamespaces(filepath.Join(dir, "projects"), Options{})
	t.Cleanup(func() {
		ns.Close()
		Close(db)
	})
	return db, ns
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"Default Project":    "default_project",
		"My--Shop  Audit!":   "my_shop_audit",
		"a/b\\c":             "abc",
		"Café Ünïcode":       "café_ünïcode",
		"???":                "",
		"already_snake_case": "already_snake_case",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStateRepoSetGetUpdate(t *testing.T) {
	db, _ := openTestMain(t)
	repo := NewStateRepo(db)
	ctx := context.Background()

	if _, found, err := repo.Get(ctx, "intercept_enabled"); err != nil || found {
		t.Fatalf("found=%v err=%v, want missing", found, err)
	}
	if err := repo.Set(ctx, "intercept_enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Set(ctx, "intercept_enabled", "false"); err != nil {
		t.Fatal(err)
	}
	v, found, err := repo.Get(ctx, "intercept_enabled")
	if err != nil || !found || v != "false" {
		t.Fatalf("got %q found=%v err=%v", v, found, err)
	}

	err = repo.Update(ctx, "counter", func(cur string, found bool) (string, bool, error) {
		if found {
			t.Fatalf("unexpected existing value %q", cur)
		}
		return "1", true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	err = repo.Update(ctx, "counter", func(cur string, found bool) (string, bool, error) {
		return "", false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	all, err := repo.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if all["counter"] != "1" || all["intercept_enabled"] != "false" {
		t.Fatalf("all = %v", all)
	}

	boom := errors.New("boom")
	if err := repo.Update(ctx, "counter", func(string, bool) (string, bool, error) { return "2", true, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if v, _, _ := repo.Get(ctx, "counter"); v != "1" {
		t.Fatalf("failed update must not write, got %q", v)
	}
}

func TestProjectsLifecycle(t *testing.T) {
	db, ns := openTestMain(t)
	repo := NewProjectRepo(db, ns)
	ctx := context.Background()

	def, err := repo.EnsureDefault(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != DefaultProjectName {
		t.Fatalf("default name = %q", def.Name)
	}
	again, err := repo.EnsureDefault(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != def.ID {
		t.Fatalf("EnsureDefault created a second project")
	}

	p, err := repo.Create(ctx, "Shop Audit", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(ctx, "Shop Audit", ""); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	if _, err := repo.Create(ctx, "!!!", ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}

	path, _ := ns.Path(p.Name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("namespace file not created: %v", err)
	}

	if _, err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("namespace file still present: %v", err)
	}
	if _, err := repo.Get(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := repo.Delete(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestCompleteExactlyOnce(t *testing.T) {
	_, ns := openTestMain(t)
	repo := NewRequestRepo(ns)
	ctx := context.Background()

	req := &CapturedRequest{Method: "GET", URL: "https://a.example/", RawRequest: "GET / HTTP/1.1\r\n\r\n", FlowID: "f1"}
	if err := repo.Insert(ctx, "p1", req); err != nil {
		t.Fatal(err)
	}
	if req.ID == 0 {
		t.Fatal("insert did not assign id")
	}

	status := 201
	dur := int64(42)
	body := "HTTP/1.1 201 Created\r\n\r\n"
	done, err := repo.Complete(ctx, "p1", req.ID, ResponseUpdate{RawResponse: &body, StatusCode: &status, DurationMS: &dur})
	if err != nil {
		t.Fatal(err)
	}
	if *done.StatusCode != 201 || *done.DurationMS != 42 {
		t.Fatalf("returned row = %+v", done)
	}

	got, err := repo.Get(ctx, "p1", req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusCode == nil || *got.StatusCode != 201 {
		t.Fatalf("status = %v", got.StatusCode)
	}
	if got.DurationMS == nil || *got.DurationMS != 42 {
		t.Fatalf("duration = %v", got.DurationMS)
	}
	if got.CompletedAt == nil || !got.CompletedAt.After(got.Timestamp) {
		t.Fatalf("completed_at %v must be after timestamp %v", got.CompletedAt, got.Timestamp)
	}

	other := 500
	if _, err := repo.Complete(ctx, "p1", req.ID, ResponseUpdate{StatusCode: &other}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("err = %v, want ErrAlreadyCompleted", err)
	}
	if _, err := repo.CompleteByFlow(ctx, "p1", "f1", ResponseUpdate{StatusCode: &other}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := repo.Complete(ctx, "p1", 999, ResponseUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestCompletedAtClampedAfterTimestamp(t *testing.T) {
	_, ns := openTestMain(t)
	repo := NewRequestRepo(ns)
	ctx := context.Background()

	ts := time.Now().UTC()
	req := &CapturedRequest{Method: "GET", URL: "https://a.example/", FlowID: "f1", Timestamp: ts}
	if err := repo.Insert(ctx, "p1", req); err != nil {
		t.Fatal(err)
	}
	done, err := repo.CompleteByFlow(ctx, "p1", "f1", ResponseUpdate{CompletedAt: ts.Add(-time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if !done.CompletedAt.After(done.Timestamp) {
		t.Fatalf("completed_at %v not after %v", done.CompletedAt, done.Timestamp)
	}
}

func TestRequestListLimit(t *testing.T) {
	_, ns := openTestMain(t)
	repo := NewRequestRepo(ns)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		r := &CapturedRequest{Method: "GET", URL: "https://x/" + id, FlowID: id, Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Insert(ctx, "p1", r); err != nil {
			t.Fatal(err)
		}
	}
	list, err := repo.List(ctx, "p1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].FlowID != "c" || list[1].FlowID != "b" {
		t.Fatalf("list = %+v", list)
	}
	all, err := repo.List(ctx, "p1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
}

func TestHeldFlowReplace(t *testing.T) {
	_, ns := openTestMain(t)
	repo := NewHeldFlowRepo(ns)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := repo.Replace(ctx, "p1", []HeldFlow{{FlowID: "f2", CapturedAt: now.Add(time.Second)}, {FlowID: "f1", CapturedAt: now}}); err != nil {
		t.Fatal(err)
	}
	got, err := repo.List(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].FlowID != "f1" || got[1].FlowID != "f2" {
		t.Fatalf("mirror = %+v", got)
	}

	if err := repo.Replace(ctx, "p1", []HeldFlow{{FlowID: "f3", CapturedAt: now}}); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.List(ctx, "p1")
	if len(got) != 1 || got[0].FlowID != "f3" {
		t.Fatalf("mirror after replace = %+v", got)
	}

	if err := repo.Replace(ctx, "p1", nil); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.List(ctx, "p1")
	if len(got) != 0 {
		t.Fatalf("mirror not cleared: %+v", got)
	}

	other, _ := repo.List(ctx, "p2")
	if len(other) != 0 {
		t.Fatalf("p2 mirror = %+v", other)
	}
}

func TestIsBusy(t *testing.T) {
	if !IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected busy")
	}
	if IsBusy(errors.New("no such table")) || IsBusy(nil) {
		t.Fatal("unexpected busy")
	}
}

func TestCreateRejectsSharedNamespace(t *testing.T) {
	db, ns := openTestMain(t)
	repo := NewProjectRepo(db, ns)
	requests := NewRequestRepo(ns)
	ctx := context.Background()

	shop, err := repo.Create(ctx, "Shop API", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(ctx, "shop-api", ""); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	if _, err := repo.Create(ctx, "SHOP  api", ""); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("err = %v, want ErrDuplicateName", err)
	}
	if err := requests.Insert(ctx, shop.Name, &CapturedRequest{Method: "GET", URL: "https://a.test/", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	rows, err := requests.List(ctx, shop.Name, 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %d, %v", len(rows), err)
	}
	list, _ := repo.List(ctx)
	if len(list) != 1 {
		t.Fatalf("projects = %+v", list)
	}
}

func TestNamespaceReopenedAfterDropByAnotherProcess(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "projects")
	capture := NewNamespaces(dir, Options{})
	control := NewNamespaces(dir, Options{})
	t.Cleanup(func() {
		capture.Close()
		control.Close()
	})
	captureHeld := NewHeldFlowRepo(capture)
	controlHeld := NewHeldFlowRepo(control)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := captureHeld.Replace(ctx, "alpha", []HeldFlow{{FlowID: "f0", CapturedAt: now}}); err != nil {
		t.Fatal(err)
	}
	if got, _ := controlHeld.List(ctx, "alpha"); len(got) != 1 {
		t.Fatalf("control sees %+v before drop", got)
	}

	if err := control.Drop("alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := control.DB("alpha"); err != nil {
		t.Fatal(err)
	}

	if err := captureHeld.Replace(ctx, "alpha", []HeldFlow{{FlowID: "f1", CapturedAt: now}}); err != nil {
		t.Fatal(err)
	}
	got, err := controlHeld.List(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].FlowID != "f1" {
		t.Fatalf("control sees %+v, want [f1]", got)
	}
}

func TestNamespaceRecreatedWhenFileMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "projects")
	a := NewNamespaces(dir, Options{})
	b := NewNamespaces(dir, Options{})
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	ctx := context.Background()

	if _, err := a.DB("beta"); err != nil {
		t.Fatal(err)
	}
	if err := b.Drop("beta"); err != nil {
		t.Fatal(err)
	}
	requests := NewRequestRepo(a)
	row := &CapturedRequest{Method: "GET", URL: "https://b.test/", Timestamp: time.Now()}
	if err := requests.Insert(ctx, "beta", row); err != nil {
		t.Fatalf("insert after drop: %v", err)
	}
	path, _ := a.Path("beta")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("namespace file not recreated: %v", err)
	}
}
