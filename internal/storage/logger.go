package storage

import (
	"context"
	"time"

	"flowgate/internal/ctxkeys"
	applog "flowgate/internal/logger"

	"gorm.io/gorm/logger"
)

// sqlLogger 把 gorm 日志转到应用 Logger，字段带上 HTTP 请求的 traceID
type sqlLogger struct {
	log   applog.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newSQLLogger(l applog.Logger) *sqlLogger {
	return &sqlLogger{log: l.With("component", "sqlite"), level: logger.Warn, slow: time.Second}
}

func (l *sqlLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.log.Info(msg, "traceID", traceID(ctx), "data", data)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.log.Warn(msg, "traceID", traceID(ctx), "data", data)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.log.Error(msg, "traceID", traceID(ctx), "data", data)
	}
}

// Trace 记录出错和慢的语句；未找到由调用方处理，忙由 RunTx 重试，均不按错误记录
func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	fields := func() []any {
		sql, rows := fc()
		return []any{"traceID", traceID(ctx), "sql", sql, "rows", rows, "elapsed", elapsed.String()}
	}

	switch {
	case err != nil && isNotFound(err):
	case err != nil && IsBusy(err):
		if l.level >= logger.Warn {
			l.log.Warn("数据库忙", append(fields(), "error", err.Error())...)
		}
	case err != nil:
		if l.level >= logger.Error {
			l.log.Error("SQL执行错误", append(fields(), "error", err.Error())...)
		}
	case l.slow > 0 && elapsed > l.slow:
		if l.level >= logger.Warn {
			l.log.Warn("慢SQL", fields()...)
		}
	case l.level >= logger.Info:
		l.log.Debug("SQL执行", fields()...)
	}
}

func traceID(ctx context.Context) any {
	if ctx == nil {
		return nil
	}
	return ctx.Value(ctxkeys.TraceIDKey{})
}
