// Package storage 基于 gorm + SQLite 的持久化层。
//
// 主库保存项目列表与全局 proxy_states；每个项目拥有独立的 SQLite 文件
// （命名空间），保存捕获的请求与挂起流镜像。两个进程共享同一批文件，
// 单条读写由 SQLite 串行化，跨进程写冲突通过 busy_timeout + RunTx 重试消化。
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flowgate/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyCompleted 请求记录已写入过响应
	ErrAlreadyCompleted = errors.New("storage: request already completed")
	// ErrDuplicateName 项目名已存在
	ErrDuplicateName = errors.New("storage: duplicate project name")
)

// Options 打开数据库的选项
type Options struct {
	Prefix      string // 表名前缀
	Logger      logger.Logger
	BusyTimeout time.Duration
}

// 每个连接都需要的 pragma，通过 DSN 传入保证连接池内所有连接一致
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// Open 打开 SQLite 数据库，自动创建父目录
func Open(path string, opts Options) (*gorm.DB, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 10 * time.Second
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: mkdir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(path, opts.BusyTimeout)), &gorm.Config{
		Logger:         newSQLLogger(opts.Logger),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: sql db: %w", err)
	}
	// 单连接：进程内写入串行，避免自身制造 SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}
	return db, nil
}

func dsn(path string, busy time.Duration) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	fmt.Fprintf(&b, "%s_pragma=busy_timeout(%d)", sep, busy.Milliseconds())
	for _, p := range pragmas {
		b.WriteString("&_pragma=")
		b.WriteString(p)
	}
	// 读改写事务开始即取写锁，两个进程同时改同一个键时由 busy_timeout 排队
	b.WriteString("&_txlock=immediate")
	return b.String()
}

// OpenMain 打开主库并迁移项目表和状态表
func OpenMain(path string, opts Options) (*gorm.DB, error) {
	db, err := Open(path, opts)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Project{}, &ProxyState{}); err != nil {
		Close(db)
		return nil, fmt.Errorf("storage: migrate main: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
