package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"flowgate/internal/ctxkeys"
	applog "flowgate/internal/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSQLLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	l := newSQLLogger(applog.NewWithWriter(&buf, "debug"))
	ctx := context.WithValue(context.Background(), ctxkeys.TraceIDKey{}, "t-1")
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), sql, nil)
	if buf.Len() != 0 {
		t.Fatalf("not-found and fast queries should be silent at warn: %q", buf.String())
	}

	l.Trace(ctx, time.Now(), sql, errors.New("database is locked"))
	if out := buf.String(); !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"traceID":"t-1"`) {
		t.Fatalf("busy should log warn with trace id: %q", out)
	}
	buf.Reset()

	l.Trace(ctx, time.Now(), sql, errors.New("no such table"))
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("failure should log error: %q", buf.String())
	}
	buf.Reset()

	verbose := l.LogMode(logger.Info)
	verbose.Trace(ctx, time.Now(), sql, nil)
	if !strings.Contains(buf.String(), "SELECT 1") {
		t.Fatalf("info mode should log statements: %q", buf.String())
	}
}
