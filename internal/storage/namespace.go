package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"flowgate/internal/logger"

	"gorm.io/gorm"
)

// ErrInvalidName 项目名无法生成合法的命名空间
var ErrInvalidName = errors.New("storage: invalid project name")

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	separators  = regexp.MustCompile(`[-\s]+`)
)

// SanitizeName 将项目名转换为文件名
func SanitizeName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "")
	s = separators.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// Namespaces 管理每个项目独立的 SQLite 文件，按需打开并迁移
type Namespaces struct {
	dir  string
	opts Options
	log  logger.Logger

	mu  sync.Mutex
	dbs map[string]*handle
}

// handle 已打开的命名空间及打开时的文件标识
type handle struct {
	db   *gorm.DB
	info os.FileInfo
}

// current 文件仍是打开时的那一个；另一进程删除或重建后返回 false
func (h *handle) current(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && os.SameFile(fi, h.info)
}

// NewNamespaces 创建命名空间管理器
func NewNamespaces(dir string, opts Options) *Namespaces {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Namespaces{
		dir:  dir,
		opts: opts,
		log:  l,
		dbs:  make(map[string]*handle),
	}
}

// Path 返回项目命名空间文件路径
func (n *Namespaces) Path(project string) (string, error) {
	s := SanitizeName(project)
	if s == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, project)
	}
	return filepath.Join(n.dir, s+".db"), nil
}

// DB 返回项目的数据库，首次访问时创建文件并迁移表结构（幂等）
//
// 文件被另一进程删除或重建后，缓存的连接会被关闭并重新打开。
func (n *Namespaces) DB(project string) (*gorm.DB, error) {
	path, err := n.Path(project)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if h, ok := n.dbs[path]; ok {
		if h.current(path) {
			return h.db, nil
		}
		n.log.Info("项目命名空间文件已变化，重新打开", "project", project, "path", path)
		Close(h.db)
		delete(n.dbs, path)
	}

	db, err := Open(path, n.opts)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CapturedRequest{}, &HeldFlow{}); err != nil {
		Close(db)
		return nil, fmt.Errorf("storage: migrate %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		Close(db)
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	n.dbs[path] = &handle{db: db, info: info}
	n.log.Debug("打开项目命名空间", "project", project, "path", path)
	return db, nil
}

// Drop 关闭并删除项目命名空间
func (n *Namespaces) Drop(project string) error {
	path, err := n.Path(project)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if h, ok := n.dbs[path]; ok {
		Close(h.db)
		delete(n.dbs, path)
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: remove %s: %w", p, err)
		}
	}
	n.log.Info("删除项目命名空间", "project", project, "path", path)
	return nil
}

// Close 关闭所有已打开的命名空间
func (n *Namespaces) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for path, h := range n.dbs {
		if err := Close(h.db); err != nil {
			errs = append(errs, err)
		}
		delete(n.dbs, path)
	}
	return errors.Join(errs...)
}
